package linklayer

// ManageChannelSelection advances the hop sequence and returns the data
// channel for this window:
//
//	unmapped = (lastUnmapped + hopIncrement) mod 37
//
// used directly when it is a used channel, remapped to
// usedChannels[unmapped mod len(usedChannels)] otherwise. The result is a
// pure function of the hop state.
func (lm *LinkManager) ManageChannelSelection() uint8 {
	unmapped := uint8((int(lm.lastUnmapped) + int(lm.hopIncrement)) % NumDataChannels)
	ch := unmapped
	if !lm.IsUsedChannel(unmapped) {
		if len(lm.usedChannels) == 0 {
			panic("linklayer: channel remapping with an empty used-channel list")
		}
		ch = lm.usedChannels[int(unmapped)%len(lm.usedChannels)]
	}
	lm.lastUnmapped = unmapped
	lm.currentChannel = ch
	return ch
}

// IsUsedChannel reports whether ch is in the used-channel list.
func (lm *LinkManager) IsUsedChannel(ch uint8) bool {
	for _, c := range lm.usedChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// SetUsedChannels replaces the channel map. An empty map is accepted; the
// next remap that needs it panics.
func (lm *LinkManager) SetUsedChannels(chs []uint8) {
	lm.usedChannels = append([]uint8(nil), chs...)
}

func (lm *LinkManager) UsedChannels() []uint8 { return append([]uint8(nil), lm.usedChannels...) }

// SetHopIncrement sets the hop distance. Values outside 1..16 are logged
// and kept.
func (lm *LinkManager) SetHopIncrement(h uint8) {
	if h < 1 || h > 16 {
		lm.log.Warn(lm.ctx(), "hop increment outside 1..16")
	}
	lm.hopIncrement = h
}

func (lm *LinkManager) HopIncrement() uint8 { return lm.hopIncrement }

// SetLastUnmappedChannelIndex rewinds the hop sequence.
func (lm *LinkManager) SetLastUnmappedChannelIndex(i uint8) { lm.lastUnmapped = i }

func (lm *LinkManager) LastUnmappedChannelIndex() uint8 { return lm.lastUnmapped }

// CurrentChannelIndex is the data channel chosen for the current window.
func (lm *LinkManager) CurrentChannelIndex() uint8 { return lm.currentChannel }
