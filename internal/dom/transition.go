package dom

import "fmt"

// Transition targets and events with special meaning.
const (
	// PageMarker is the target of the synthetic transition recording the initial page load.
	PageMarker = "page"

	EventLoad    = "load"
	EventRequest = "request"
	EventOnload  = "onload"
	EventClick   = "click"
)

// Transition is one recorded client-side step: the target acted upon (an
// element description, a URL, or PageMarker) and the event that happened.
// Transitions are values and never change once created.
type Transition struct {
	element string
	event   string
}

// NewTransition creates a transition of event on element.
func NewTransition(element, event string) Transition {
	return Transition{element: element, event: event}
}

// PageLoad is the synthetic transition every exploration starts from.
func PageLoad() Transition {
	return Transition{element: PageMarker, event: EventLoad}
}

// Request records a navigation to url.
func Request(url string) Transition {
	return Transition{element: url, event: EventRequest}
}

func (t Transition) Element() string { return t.element }
func (t Transition) Event() string   { return t.event }

// IsInitial reports whether t is the synthetic page-load marker.
func (t Transition) IsInitial() bool {
	return t.element == PageMarker && t.event == EventLoad
}

// IsRequest reports whether t only records a navigation.
func (t Transition) IsRequest() bool {
	return t.event == EventRequest
}

// IsPlayable reports whether t has to be re-fired through a browser to reach
// the state it leads to.
func (t Transition) IsPlayable() bool {
	return !t.IsInitial() && !t.IsRequest()
}

func (t Transition) String() string {
	return fmt.Sprintf("%s:%s", t.element, t.event)
}

// TransitionData is the plain structured form of a Transition.
type TransitionData struct {
	Element string `json:"element"`
	Event   string `json:"event"`
}

// ToRPC converts the transition to its plain structured form.
func (t Transition) ToRPC() TransitionData {
	return TransitionData{Element: t.element, Event: t.event}
}

// TransitionFromRPC reconstructs a Transition.
func TransitionFromRPC(d TransitionData) Transition {
	return NewTransition(d.Element, d.Event)
}
