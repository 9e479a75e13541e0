package bagel

import (
	"graphcomputer/graph"
)

// VertexCheckpoint stores what a vertex needs to resume from a checkpoint:
// its compute key values and the messages waiting for it.
type VertexCheckpoint struct {
	Id       uint64
	Values   map[string]interface{}
	Messages []interface{}
}

func checkpointVertex(v *graph.Vertex, keys []VertexComputeKey, messages []interface{}) VertexCheckpoint {
	values := make(map[string]interface{})
	for _, k := range keys {
		if value, ok := v.Property(k.Key); ok {
			values[k.Key] = value
		}
	}
	return VertexCheckpoint{Id: v.Id, Values: values, Messages: messages}
}

func (c VertexCheckpoint) restore(v *graph.Vertex, keys []VertexComputeKey) {
	for _, k := range keys {
		if value, ok := c.Values[k.Key]; ok {
			v.SetProperty(k.Key, value)
		} else {
			v.RemoveProperty(k.Key)
		}
	}
}

// vertexMessenger is the messenger of one worker. Outgoing messages are
// combined per destination when the program allows it.
type vertexMessenger struct {
	incoming map[uint64][]interface{}
	outgoing map[uint64][]interface{}
	combiner MessageCombiner
	current  uint64
	sent     int
}

func newVertexMessenger(incoming map[uint64][]interface{}, combiner MessageCombiner) *vertexMessenger {
	return &vertexMessenger{
		incoming: incoming,
		outgoing: make(map[uint64][]interface{}),
		combiner: combiner,
	}
}

func (m *vertexMessenger) ReceiveMessages() []interface{} {
	return m.incoming[m.current]
}

func (m *vertexMessenger) SendMessage(destination uint64, message interface{}) {
	m.sent++
	if m.combiner != nil && len(m.outgoing[destination]) == 1 {
		m.outgoing[destination][0] = m.combiner.CombineMessages(m.outgoing[destination][0], message)
		return
	}
	m.outgoing[destination] = append(m.outgoing[destination], message)
}
