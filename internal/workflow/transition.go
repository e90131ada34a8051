package workflow

import (
	"errors"
	"fmt"
)

// ErrNoTransition is returned when an event is not valid in a node.
var ErrNoTransition = errors.New("no transition")

// Node is a state of the conversation graph.
type Node string

const (
	NodeStart            Node = "start"
	NodeAnalyzeIntent    Node = "analyze_intent"
	NodeRetrieveContext  Node = "retrieve_context"
	NodeGenerateResponse Node = "generate_response"
	NodeEscalate         Node = "escalate"
	NodeHandleFollowup   Node = "handle_followup"
	NodeUpdateContext    Node = "update_context"
	NodeEndConversation  Node = "end_conversation"
	NodeEnd              Node = "end"
)

// Event is the outcome a node reports when it finishes.
type Event string

const (
	EventMessage          Event = "message"
	EventIntentClassified Event = "intent_classified"
	EventIntentFailed     Event = "intent_failed"
	EventContextRetrieved Event = "context_retrieved"
	EventContextFailed    Event = "context_failed"
	EventEscalate         Event = "escalate"
	EventFollowup         Event = "followup"
	EventContinue         Event = "continue"
	EventAwait            Event = "await"
	EventKeepOpen         Event = "keep_open"
	EventEnd              Event = "end"
	EventDone             Event = "done"
)

type edge struct {
	from Node
	ev   Event
}

// target is where an edge leads. await edges cross a turn boundary: the
// engine stops and the next customer message resumes at to.
type target struct {
	to    Node
	await bool
}

var transitions = map[edge]target{
	{NodeStart, EventMessage}: {to: NodeAnalyzeIntent},

	{NodeAnalyzeIntent, EventIntentClassified}: {to: NodeRetrieveContext},
	{NodeAnalyzeIntent, EventIntentFailed}:     {to: NodeEscalate},

	{NodeRetrieveContext, EventContextRetrieved}: {to: NodeGenerateResponse},
	{NodeRetrieveContext, EventContextFailed}:    {to: NodeEscalate},

	{NodeGenerateResponse, EventEscalate}: {to: NodeEscalate},
	{NodeGenerateResponse, EventFollowup}: {to: NodeHandleFollowup},
	{NodeGenerateResponse, EventContinue}: {to: NodeUpdateContext},

	{NodeHandleFollowup, EventAwait}: {to: NodeAnalyzeIntent, await: true},

	{NodeUpdateContext, EventEnd}:      {to: NodeEndConversation},
	{NodeUpdateContext, EventKeepOpen}: {to: NodeAnalyzeIntent, await: true},

	{NodeEscalate, EventDone}:        {to: NodeEnd},
	{NodeEndConversation, EventDone}: {to: NodeEnd},
}

// Transition returns the node that follows from on ev, and whether the
// edge waits for the next customer message.
func Transition(from Node, ev Event) (Node, bool, error) {
	t, ok := transitions[edge{from, ev}]
	if !ok {
		return "", false, fmt.Errorf("%w: %s on %s", ErrNoTransition, from, ev)
	}
	return t.to, t.await, nil
}
