package mesh

import (
	"sort"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

// Pool is the keyed set of peer records. It holds at most one record per
// participant id.
type Pool struct {
	records map[signaling.ParticipantID]*PeerRecord
	lastGen uint64
}

func NewPool() *Pool {
	return &Pool{records: make(map[signaling.ParticipantID]*PeerRecord)}
}

func (p *Pool) nextGen() uint64 {
	p.lastGen++
	return p.lastGen
}

func (p *Pool) insert(id signaling.ParticipantID, gen uint64, t Transport) (*PeerRecord, error) {
	if _, ok := p.records[id]; ok {
		return nil, ErrPeerExists
	}
	rec := &PeerRecord{ID: id, transport: t, gen: gen, state: StateNew}
	p.records[id] = rec
	return rec, nil
}

func (p *Pool) Lookup(id signaling.ParticipantID) (*PeerRecord, bool) {
	rec, ok := p.records[id]
	return rec, ok
}

// lookupGen returns the live record for id only if it is the incarnation gen.
func (p *Pool) lookupGen(id signaling.ParticipantID, gen uint64) (*PeerRecord, bool) {
	rec, ok := p.records[id]
	if !ok || rec.gen != gen || rec.state == StateClosed {
		return nil, false
	}
	return rec, true
}

func (p *Pool) remove(rec *PeerRecord) {
	if cur, ok := p.records[rec.ID]; ok && cur == rec {
		delete(p.records, rec.ID)
	}
}

func (p *Pool) Len() int { return len(p.records) }

// IDs returns the member ids in ascending order.
func (p *Pool) IDs() []signaling.ParticipantID {
	ids := make([]signaling.ParticipantID, 0, len(p.records))
	for id := range p.records {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Records returns the records in creation order.
func (p *Pool) Records() []*PeerRecord {
	out := make([]*PeerRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].gen < out[j].gen })
	return out
}

func sortIDs(ids []signaling.ParticipantID) {
	sort.Slice(ids, func(i, j int) bool {
		return strings.Compare(string(ids[i]), string(ids[j])) < 0
	})
}
