package presence

import (
	"context"
	"sync"

	"presencecore/collab"
)

// parcelState is C5's component-owned state: current/previous parcel
// id and hide flags (spec.md §3). Child presences hold no parcel
// binding (cleared by MakeChild).
type parcelState struct {
	mu sync.RWMutex

	currentParcelID  collab.LocalID
	previousParcelID collab.LocalID
	currentHides     bool
	previousHides    bool
}

// ParcelTransition is the four-list decomposition produced by a parcel
// boundary crossing (spec.md §4.5): peers who must stop/start seeing
// this presence, in each direction.
type ParcelTransition struct {
	KillToThem []collab.PresenceID
	KillToMe   []collab.PresenceID
	ShowToThem []collab.PresenceID
	ShowToMe   []collab.PresenceID
}

// peerParcelInfo is what the engine needs to know about each candidate
// peer to classify it into the transition's lists.
type peerParcelInfo struct {
	ID         collab.PresenceID
	ParcelID   collab.LocalID
	AccessLevel AccessLevel
}

// OnParcelMove processes a move into a new parcel: it classifies the
// boundary event from (previousHide, currentHide) and the pair of
// parcel ids, and produces the four disjoint peer lists (spec.md §4.5).
// peers is a scene snapshot of all other presences visible to this one.
func (p *Presence) OnParcelMove(ctx context.Context, newParcelID collab.LocalID, newHides bool, peers []peerParcelInfo) ParcelTransition {
	p.parcel.mu.Lock()
	prevID := p.parcel.currentParcelID
	prevHides := p.parcel.currentHides

	p.parcel.previousParcelID = prevID
	p.parcel.previousHides = prevHides
	p.parcel.currentParcelID = newParcelID
	p.parcel.currentHides = newHides
	p.parcel.mu.Unlock()

	t := ParcelTransition{}

	switch {
	case !prevHides && newHides:
		// public -> private: previous-parcel peers go kill-both;
		// current-parcel peers go show-both.
		for _, peer := range peers {
			if peer.AccessLevel.IsElevated() {
				t.ShowToThem = append(t.ShowToThem, peer.ID)
				t.ShowToMe = append(t.ShowToMe, peer.ID)
				continue
			}
			switch peer.ParcelID {
			case prevID:
				t.KillToThem = append(t.KillToThem, peer.ID)
				t.KillToMe = append(t.KillToMe, peer.ID)
			case newParcelID:
				t.ShowToThem = append(t.ShowToThem, peer.ID)
				t.ShowToMe = append(t.ShowToMe, peer.ID)
			}
		}
	case prevHides && !newHides:
		// private -> public: previous-parcel peers go kill-me;
		// non-current peers go show-to-them.
		for _, peer := range peers {
			if peer.AccessLevel.IsElevated() {
				t.ShowToThem = append(t.ShowToThem, peer.ID)
				t.ShowToMe = append(t.ShowToMe, peer.ID)
				continue
			}
			if peer.ParcelID == prevID {
				t.KillToMe = append(t.KillToMe, peer.ID)
			}
			if peer.ParcelID != newParcelID {
				t.ShowToThem = append(t.ShowToThem, peer.ID)
			}
		}
	case prevHides && newHides && prevID != newParcelID:
		// private -> private, different parcel: same pattern as
		// leaving-private, relative to the new parcel.
		for _, peer := range peers {
			if peer.AccessLevel.IsElevated() {
				t.ShowToThem = append(t.ShowToThem, peer.ID)
				t.ShowToMe = append(t.ShowToMe, peer.ID)
				continue
			}
			if peer.ParcelID == prevID {
				t.KillToMe = append(t.KillToMe, peer.ID)
			}
			if peer.ParcelID != newParcelID {
				t.ShowToThem = append(t.ShowToThem, peer.ID)
			}
		}
	default:
		// public -> public: no action.
	}

	return t
}

// GodToggle iterates all peers and, for every peer whose parcel differs
// from this presence's current parcel, either shows this presence (if
// it just became elevated) or kills it (if it just lost elevation)
// (spec.md §4.5). No parcel privacy flag is consulted: every peer
// outside the current parcel is included.
func (p *Presence) GodToggle(ctx context.Context, becameElevated bool, peers []peerParcelInfo) ParcelTransition {
	p.parcel.mu.RLock()
	currentID := p.parcel.currentParcelID
	p.parcel.mu.RUnlock()

	t := ParcelTransition{}
	for _, peer := range peers {
		if peer.ParcelID == currentID {
			continue
		}
		if becameElevated {
			t.ShowToThem = append(t.ShowToThem, peer.ID)
		} else {
			t.KillToThem = append(t.KillToThem, peer.ID)
		}
	}
	return t
}

// CurrentParcelHidesAvatar reports invariant 3's guard.
func (p *Presence) CurrentParcelHidesAvatar() bool {
	p.parcel.mu.RLock()
	defer p.parcel.mu.RUnlock()
	return p.parcel.currentHides
}

// CurrentParcelID returns the parcel this presence currently occupies.
func (p *Presence) CurrentParcelID() collab.LocalID {
	p.parcel.mu.RLock()
	defer p.parcel.mu.RUnlock()
	return p.parcel.currentParcelID
}

// VisibleTo implements invariant 3: an observer with access < 200 whose
// parcel differs from this presence's current parcel cannot receive any
// update about this presence while CurrentParcelHidesAvatar is true.
func (p *Presence) VisibleTo(observerParcelID collab.LocalID, observerAccess AccessLevel) bool {
	p.parcel.mu.RLock()
	defer p.parcel.mu.RUnlock()
	if !p.parcel.currentHides {
		return true
	}
	if observerAccess.IsElevated() {
		return true
	}
	return observerParcelID == p.parcel.currentParcelID
}

func (p *Presence) clearParcelState() {
	p.parcel.mu.Lock()
	p.parcel.currentParcelID = 0
	p.parcel.previousParcelID = 0
	p.parcel.currentHides = false
	p.parcel.previousHides = false
	p.parcel.mu.Unlock()
}
