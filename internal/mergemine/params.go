package mergemine

// HashSize is the length of an aux chain identifier and of every merkle
// proof element.
const HashSize = 32

// ChainParams are the published merge-mining parameters for one aux chain.
//
// A zero AuxID or empty AuxDiff marks the corresponding field unset; readers
// must treat the whole value as absent until both are present.
type ChainParams struct {
	AuxID   [HashSize]byte
	AuxDiff []byte
}

func (p *ChainParams) valid() bool {
	return p.AuxID != [HashSize]byte{} && len(p.AuxDiff) > 0
}
