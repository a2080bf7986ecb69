// Package projections holds the derived, in-memory views BalanceChain
// keeps alongside the durable chain: per-peer message history and the
// rich/business score state. Both are pure functions of the committed
// segment sequence and are rebuilt by replay on startup or restore.
package projections

import (
	"encoding/json"
	"math"

	"balancechain/internal/segment"
)

// ScoreView is the chain's current rich/business score state.
type ScoreView struct {
	RichScore     float64
	BusinessScore float64
}

func clip100(v float64) float64 { return math.Min(100, math.Max(0, v)) }

// ApplyScoreDelta updates view according to spec.md §4.5's score rules
// for a single committed segment, returning the updated view. It never
// mutates its argument.
func ApplyScoreDelta(view ScoreView, typ segment.Type, payload json.RawMessage) ScoreView {
	switch typ {
	case segment.TypeBizDecision:
		var p segment.BizDecisionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return view
		}
		if p.Scores != nil {
			return applyOverride(view, p.Scores)
		}
		if p.Decision == segment.DecisionAccept {
			view.RichScore = clip100(view.RichScore + 2)
		}
		return view

	case segment.TypeBizOutcome:
		var p segment.BizOutcomePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return view
		}
		if p.Scores != nil {
			return applyOverride(view, p.Scores)
		}
		if p.Outcome == segment.OutcomeSuccess {
			view.RichScore = clip100(view.RichScore + 5)
			view.BusinessScore = clip100(view.BusinessScore + 3)
		}
		return view

	default:
		return view
	}
}

func applyOverride(view ScoreView, s *segment.Scores) ScoreView {
	if s.RichScore != nil {
		view.RichScore = clip100(*s.RichScore)
	}
	if s.BusinessScore != nil {
		view.BusinessScore = clip100(*s.BusinessScore)
	}
	return view
}

// MessageBearingTypes is the set of segment types that produce a
// projection record in the messages collection (spec.md §4.5).
var MessageBearingTypes = map[segment.Type]bool{
	segment.TypeChatUser:   true,
	segment.TypeAIAdvice:   true,
	segment.TypeChatLegacy: true,
}

// Direction returns the message-view direction for a message-bearing
// segment type: the human author's own messages are "out", anything
// produced on their behalf by the assistant is "in".
func Direction(typ segment.Type) string {
	if typ == segment.TypeAIAdvice {
		return "in"
	}
	return "out"
}

// MessageEntry is one row of a per-peer message view.
type MessageEntry struct {
	ID          string
	Seq         int64
	TimestampMs int64
	Peer        string
	Direction   string
	Text        string
}

// MessageView is the rebuildable projection: all message-bearing
// segments grouped by peer (chatId), in seq order.
type MessageView struct {
	ByPeer map[string][]MessageEntry
}

// NewMessageView returns an empty view.
func NewMessageView() *MessageView {
	return &MessageView{ByPeer: make(map[string][]MessageEntry)}
}

// Apply appends one message-bearing segment's entry to the view.
func (v *MessageView) Apply(s *segment.Segment) {
	if !MessageBearingTypes[s.Type] {
		return
	}
	var p segment.ChatUserPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return
	}
	entry := MessageEntry{
		ID:          s.ID(),
		Seq:         s.Seq,
		TimestampMs: s.TimestampMs,
		Peer:        p.ChatID,
		Direction:   Direction(s.Type),
		Text:        p.Text,
	}
	v.ByPeer[p.ChatID] = append(v.ByPeer[p.ChatID], entry)
}
