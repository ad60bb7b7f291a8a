package uapi

// PacketControl packs one chunk's descriptor control word, shared by every
// context mode. IR contexts leave Skip unset and Sync reflects the sync-wait
// flag instead of the IT tagged-skip flag; callers pick the field that
// applies to their mode and zero the rest.
type PacketControl struct {
	Skip          bool
	Tag           uint8
	Sy            uint8
	HeaderLength  uint16
	Interrupt     bool
	Sync          bool
	PayloadLength uint16
}

// Encode packs the fields into a single control word.
func (c PacketControl) Encode() uint32 {
	var w uint32
	if c.Skip {
		w |= IsoPacketControlSkipMask
	}
	w |= (uint32(c.Tag) << IsoPacketControlTagShift) & IsoPacketControlTagMask
	w |= (uint32(c.Sy) << IsoPacketControlSyShift) & IsoPacketControlSyMask
	w |= (uint32(c.HeaderLength) << IsoPacketControlHeaderLengthShift) & IsoPacketControlHeaderLengthMask
	if c.Interrupt {
		w |= IsoPacketControlInterruptMask
	}
	if c.Sync {
		w |= IsoPacketControlSyncMask
	}
	w |= (uint32(c.PayloadLength) << IsoPacketControlPayloadLengthShift) & IsoPacketControlPayloadLengthMask
	return w
}

// DecodePacketControl unpacks a control word back into its fields.
func DecodePacketControl(w uint32) PacketControl {
	return PacketControl{
		Skip:          w&IsoPacketControlSkipMask != 0,
		Tag:           uint8((w & IsoPacketControlTagMask) >> IsoPacketControlTagShift),
		Sy:            uint8((w & IsoPacketControlSyMask) >> IsoPacketControlSyShift),
		HeaderLength:  uint16((w & IsoPacketControlHeaderLengthMask) >> IsoPacketControlHeaderLengthShift),
		Interrupt:     w&IsoPacketControlInterruptMask != 0,
		Sync:          w&IsoPacketControlSyncMask != 0,
		PayloadLength: uint16((w & IsoPacketControlPayloadLengthMask) >> IsoPacketControlPayloadLengthShift),
	}
}
