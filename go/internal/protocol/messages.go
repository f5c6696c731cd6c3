package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedMessage is the raw envelope pushed by the server over the persistent
// channel. A message with a non-empty UpdateType belongs to the state-update
// family; otherwise Type selects a UI directive.
type FeedMessage struct {
	UpdateType UpdateType      `json:"update_type,omitempty"`
	Type       DirectiveType   `json:"type,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// UpdateType classifies state-update messages.
type UpdateType string

const (
	UpdateInc              UpdateType = "inc"
	UpdateSet              UpdateType = "set"
	UpdateChangeAttributes UpdateType = "change_attributes"
)

// DirectiveType classifies UI directives.
type DirectiveType string

const (
	DirectiveSlot          DirectiveType = "slot"
	DirectiveDuetime       DirectiveType = "duetime"
	DirectiveReloadStation DirectiveType = "reload_station"
	DirectiveReloadElement DirectiveType = "reload_element"
	DirectiveRemoveElement DirectiveType = "remove_element"
	DirectiveAppendElement DirectiveType = "append_element"
	DirectivePrompt        DirectiveType = "prompt"
	DirectiveAddStation    DirectiveType = "add_station"
	DirectivePlayerInfo    DirectiveType = "player_info"
	DirectiveUpdateClass   DirectiveType = "update_class"
)

// ElementUpdate is the per-key payload of an inc/set update. Data is the
// delta (inc) or the new value (set); DisplayFun names the formatter that
// turns the recorded value into display text.
type ElementUpdate struct {
	Data       float64 `json:"data"`
	DisplayFun string  `json:"display_fun"`
}

// StateUpdate is a parsed state-update message.
type StateUpdate struct {
	UpdateType      UpdateType               `json:"update_type"`
	UpdatedElements map[string]ElementUpdate `json:"updated_elements,omitempty"`
	AttributeChange []AttributeChange        `json:"attribute_change_data,omitempty"`
}

// AttributeChange applies one attribute write to all elements matching a selector.
type AttributeChange struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
	Value    string `json:"value"`
}

// SlotPayload assigns a timed operation to a station's next free slot.
type SlotPayload struct {
	Station string    `json:"station"`
	Since   time.Time `json:"since"`
	Due     time.Time `json:"due"`
	EventID string    `json:"event_id,omitempty"`
}

// DuetimePayload re-arms the countdown bound to Target.
type DuetimePayload struct {
	Target string    `json:"target"`
	Due    time.Time `json:"due"`
}

// ReloadStationPayload requests a full refresh of one station subtree.
type ReloadStationPayload struct {
	Station string `json:"station"`
}

// ReloadElementPayload requests a refresh of one element by id.
type ReloadElementPayload struct {
	Element string `json:"element"`
}

// RemoveElementPayload detaches all elements matching Selector.
type RemoveElementPayload struct {
	Selector string `json:"selector"`
}

// AppendElementPayload appends rendered content under Selector.
type AppendElementPayload struct {
	Selector string `json:"selector"`
	HTML     string `json:"element"`
}

// PromptPayload displays a modal with rendered content.
type PromptPayload struct {
	HTML string `json:"html"`
}

// AddStationPayload appends a freshly unlocked station to the playscreen.
type AddStationPayload struct {
	Station string `json:"station"`
}

// PlayerInfoPayload renders a transient, self-expiring info box. Duration is
// measured in fade ticks, not wall time.
type PlayerInfoPayload struct {
	Target   string `json:"target"`
	Content  string `json:"content"`
	Duration int    `json:"duration"`
}

// ClassAction is the verb of an update_class directive.
type ClassAction string

const (
	AddClass    ClassAction = "add_class"
	RemoveClass ClassAction = "remove_class"
)

// UpdateClassPayload adds or removes a marker class on Target.
type UpdateClassPayload struct {
	Target    string      `json:"target"`
	Action    ClassAction `json:"action"`
	ClassData string      `json:"class_data"`
}

// ParseFeedMessage classifies a raw channel message without decoding its
// type-specific fields.
func ParseFeedMessage(data []byte) (FeedMessage, error) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return FeedMessage{}, fmt.Errorf("failed to decode feed message: %w", err)
	}
	msg.Raw = data
	return msg, nil
}

// ParseStateUpdate decodes the full state-update payload of a feed message.
func ParseStateUpdate(msg FeedMessage) (StateUpdate, error) {
	var upd StateUpdate
	if err := json.Unmarshal(msg.Raw, &upd); err != nil {
		return StateUpdate{}, fmt.Errorf("failed to decode %s update: %w", msg.UpdateType, err)
	}
	return upd, nil
}

// ParseDirectivePayload decodes the type-specific payload of a UI directive.
// An unknown directive type returns (nil, nil); the caller decides whether to
// drop it (and is expected to log the drop).
func ParseDirectivePayload(msg FeedMessage) (interface{}, error) {
	decode := func(v interface{}) (interface{}, error) {
		if err := json.Unmarshal(msg.Raw, v); err != nil {
			return nil, fmt.Errorf("failed to decode %s directive: %w", msg.Type, err)
		}
		return v, nil
	}

	switch msg.Type {
	case DirectiveSlot:
		var p SlotPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveDuetime:
		var p DuetimePayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveReloadStation:
		var p ReloadStationPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveReloadElement:
		var p ReloadElementPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveRemoveElement:
		var p RemoveElementPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveAppendElement:
		var p AppendElementPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectivePrompt:
		var p PromptPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveAddStation:
		var p AddStationPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectivePlayerInfo:
		var p PlayerInfoPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case DirectiveUpdateClass:
		var p UpdateClassPayload
		if _, err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil // unknown directive type
	}
}
