package event

// Router narrows the subscriber set for one event. The input is ordered by
// priority and the output must preserve that order.
type Router interface {
	Route(e Event, subscribers []Subscriber) []Subscriber
}

// RouterFunc adapts a function to Router.
type RouterFunc func(e Event, subscribers []Subscriber) []Subscriber

// Route calls f.
func (f RouterFunc) Route(e Event, subscribers []Subscriber) []Subscriber {
	return f(e, subscribers)
}

// FilterRouter keeps subscribers whose Accept returns true. Subscribers that
// do not implement Filtered receive every event.
type FilterRouter struct{}

// Route implements Router.
func (FilterRouter) Route(e Event, subscribers []Subscriber) []Subscriber {
	out := make([]Subscriber, 0, len(subscribers))
	for _, s := range subscribers {
		if f, ok := s.(Filtered); ok && !f.Accept(e) {
			continue
		}
		out = append(out, s)
	}
	return out
}
