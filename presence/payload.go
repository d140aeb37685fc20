package presence

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"presencecore/collab"
	"presencecore/geom"
)

// TransitPayloadSchemaVersion is bumped whenever the wire shape of
// TransitPayload changes incompatibly.
const TransitPayloadSchemaVersion = 1

// TransitPayload is the structured hand-off payload the Transit
// Coordinator carries between regions (spec.md §3's "Persisted state").
// It additionally carries a SchemaVersion and Checksum (§9 supplemented
// feature) so a receiving region can detect a malformed or truncated
// hand-off before trusting it — new wire hygiene, not a behavior change.
type TransitPayload struct {
	SchemaVersion int    `json:"schema_version"`
	Checksum      string `json:"checksum"`

	Position        geom.Vec  `json:"position"`
	Velocity        geom.Vec  `json:"velocity"`
	CameraUp        geom.Vec  `json:"camera_up"`
	CameraAt        geom.Vec  `json:"camera_at"`
	CameraLeft      geom.Vec  `json:"camera_left"`
	DrawDistance    float64   `json:"draw_distance"`
	ThrottleOpaque  []byte    `json:"throttle_opaque"`
	HeadRotation    geom.Quat `json:"head_rotation"`
	BodyRotation    geom.Quat `json:"body_rotation"`
	ControlFlags    ControlFlags `json:"control_flags"`
	AccessLevel     AccessLevel  `json:"access_level"`
	AlwaysRun       bool      `json:"always_run"`
	AppearanceBlob  []byte    `json:"appearance_blob"`
	ParentPartID    uint32    `json:"parent_part_id"`
	PrevSitOffset   geom.Vec  `json:"prev_sit_offset"`

	ScriptedControls []ScriptedControlEntry `json:"scripted_controls"`

	Animations        []string `json:"animations"`
	DefaultAnimation  string   `json:"default_animation"`
	ImplicitDefault   string   `json:"implicit_default"`
	MotionState       string   `json:"motion_state"`

	AttachmentsPayload []byte            `json:"attachments_payload"`
	ChildrenCaps       map[uint64]string `json:"children_caps"`

	SessionID      string `json:"session_id"`
	OriginRegionID string `json:"origin_region_id"`
}

// ScriptedControlEntry mirrors one entry of the script control arbiter's
// registration table, carried across a hand-off.
type ScriptedControlEntry struct {
	ObjectID   uint32       `json:"object_id"`
	ItemID     uint32       `json:"item_id"`
	IgnoreMask ControlFlags `json:"ignore_mask"`
	EventMask  ControlFlags `json:"event_mask"`
}

// CopyTo serializes this presence's externally observable state into a
// TransitPayload, excluding the Physical Body identity (which never
// survives a hand-off — the destination region attaches its own).
func (p *Presence) CopyTo() (TransitPayload, error) {
	p.motion.mu.RLock()
	payload := TransitPayload{
		SchemaVersion: TransitPayloadSchemaVersion,
		Position:      p.motion.position,
		Velocity:      p.motion.velocity,
		CameraUp:      p.motion.cameraUp,
		CameraAt:      p.motion.cameraAt,
		CameraLeft:    p.motion.cameraLeft,
		DrawDistance:  p.DrawDistance,
		HeadRotation:  p.motion.bodyRotation,
		BodyRotation:  p.motion.bodyRotation,
		ControlFlags:  p.motion.movementFlag,
		AlwaysRun:     p.motion.alwaysRun,
	}
	p.motion.mu.RUnlock()

	payload.AccessLevel = p.Access

	p.seat.mu.RLock()
	payload.ParentPartID = uint32(p.seat.parentPartID)
	payload.PrevSitOffset = p.seat.prevSitOffset
	p.seat.mu.RUnlock()

	p.control.mu.Lock()
	for _, reg := range p.control.registrations {
		payload.ScriptedControls = append(payload.ScriptedControls, ScriptedControlEntry{
			ObjectID:   uint32(reg.objectID),
			ItemID:     uint32(reg.itemID),
			IgnoreMask: reg.ignoreMask,
			EventMask:  reg.eventMask,
		})
	}
	p.control.mu.Unlock()

	p.transit.mu.RLock()
	payload.OriginRegionID = p.transit.originRegionID
	p.transit.mu.RUnlock()

	payload.SessionID = p.SessionID.String()

	checksum, err := computeChecksum(payload)
	if err != nil {
		return TransitPayload{}, err
	}
	payload.Checksum = checksum
	return payload, nil
}

// CopyFrom restores a fresh presence's state from a TransitPayload,
// verifying its checksum and schema version first so a malformed or
// truncated hand-off is rejected before any mutation occurs.
func (p *Presence) CopyFrom(payload TransitPayload) error {
	if payload.SchemaVersion != TransitPayloadSchemaVersion {
		return NewError(InvalidTransition, "transit payload schema version mismatch", map[string]any{
			"got": payload.SchemaVersion, "want": TransitPayloadSchemaVersion,
		})
	}

	want := payload.Checksum
	payload.Checksum = ""
	got, err := computeChecksum(payload)
	if err != nil {
		return err
	}
	if got != want {
		return NewError(InvalidTransition, "transit payload checksum mismatch; hand-off rejected", map[string]any{
			"want": want, "got": got,
		})
	}

	p.motion.mu.Lock()
	p.motion.position = payload.Position
	p.motion.velocity = payload.Velocity
	p.motion.cameraUp = payload.CameraUp
	p.motion.cameraAt = payload.CameraAt
	p.motion.cameraLeft = payload.CameraLeft
	p.motion.bodyRotation = payload.BodyRotation
	p.motion.movementFlag = payload.ControlFlags
	p.motion.alwaysRun = payload.AlwaysRun
	p.motion.mu.Unlock()

	p.DrawDistance = payload.DrawDistance
	p.Access = payload.AccessLevel

	p.seat.mu.Lock()
	p.seat.parentPartID = 0 // LocalIDs are scene-local (collab.go §9); the destination region re-resolves the seat linkage, it is never carried raw
	p.seat.prevSitOffset = payload.PrevSitOffset
	p.seat.mu.Unlock()

	p.control.mu.Lock()
	p.control.registrations = make(map[collab.LocalID]controlRegistration, len(payload.ScriptedControls))
	for _, entry := range payload.ScriptedControls {
		p.control.registrations[collab.LocalID(entry.ItemID)] = controlRegistration{
			objectID:   collab.LocalID(entry.ObjectID),
			itemID:     collab.LocalID(entry.ItemID),
			ignoreMask: entry.IgnoreMask,
			eventMask:  entry.EventMask,
			emits:      true,
		}
	}
	p.recomputeIgnoreMaskLocked()
	p.control.mu.Unlock()

	p.transit.mu.Lock()
	p.transit.originRegionID = payload.OriginRegionID
	p.transit.mu.Unlock()

	return nil
}

// computeChecksum is a sha256 over the JSON-encoded payload with the
// Checksum field cleared, grounded on the teacher's sync protocol
// checksum pattern (calculateDeltaChecksum).
func computeChecksum(payload TransitPayload) (string, error) {
	payload.Checksum = ""
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal transit payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
