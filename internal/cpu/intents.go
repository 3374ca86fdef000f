package cpu

import (
	"encoding/json"
	"sync"
)

// Intents records the actions a tenant queued during a tick and what they
// cost. Charges are counted in units of the per-intent cost so refunds are
// exact.
type Intents struct {
	mu      sync.Mutex
	cost    float64
	free    map[string]bool
	objects map[string]map[string]any // id -> name -> json.RawMessage or []json.RawMessage
	lists   map[string][]json.RawMessage
	units   int
	charged map[string]int // id/name -> units charged
}

// NewIntents returns an empty intent set charging cost per intent, except
// for names in free.
func NewIntents(cost float64, free []string) *Intents {
	in := &Intents{
		cost:    cost,
		free:    make(map[string]bool, len(free)),
		objects: map[string]map[string]any{},
		lists:   map[string][]json.RawMessage{},
		charged: map[string]int{},
	}
	for _, name := range free {
		in.free[name] = true
	}
	return in
}

func intentKey(id, name string) string { return id + "\x00" + name }

func (in *Intents) charge(key, name string) {
	if in.free[name] {
		return
	}
	in.units++
	in.charged[key]++
}

// Set records the intent name for object id, replacing earlier data. An
// intent is charged once per object and name.
func (in *Intents) Set(id, name string, data json.RawMessage) {
	in.mu.Lock()
	defer in.mu.Unlock()
	obj := in.object(id)
	key := intentKey(id, name)
	if in.charged[key] == 0 {
		in.charge(key, name)
	}
	obj[name] = data
}

// Push appends to the top-level list name. It returns false when the list
// already holds maxLen entries (maxLen <= 0 means no limit).
func (in *Intents) Push(name string, data json.RawMessage, maxLen int) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if maxLen > 0 && len(in.lists[name]) >= maxLen {
		return false
	}
	in.lists[name] = append(in.lists[name], data)
	in.charge(intentKey("", name), name)
	return true
}

// PushByName appends to the list name of object id.
func (in *Intents) PushByName(id, name string, data json.RawMessage, maxLen int) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	obj := in.object(id)
	list, _ := obj[name].([]json.RawMessage)
	if maxLen > 0 && len(list) >= maxLen {
		return false
	}
	obj[name] = append(list, data)
	in.charge(intentKey(id, name), name)
	return true
}

// Remove withdraws the intent name of object id and refunds what it cost.
func (in *Intents) Remove(id, name string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	obj, ok := in.objects[id]
	if !ok {
		return false
	}
	if _, ok := obj[name]; !ok {
		return false
	}
	delete(obj, name)
	if len(obj) == 0 {
		delete(in.objects, id)
	}
	key := intentKey(id, name)
	in.units -= in.charged[key]
	delete(in.charged, key)
	return true
}

// CPU is the synthetic cost of everything recorded.
func (in *Intents) CPU() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return float64(in.units) * in.cost
}

// Snapshot returns the recorded intents keyed by object id or list name.
func (in *Intents) Snapshot() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]any, len(in.objects)+len(in.lists))
	for id, obj := range in.objects {
		cp := make(map[string]any, len(obj))
		for k, v := range obj {
			cp[k] = v
		}
		out[id] = cp
	}
	for name, list := range in.lists {
		out[name] = append([]json.RawMessage(nil), list...)
	}
	return out
}

func (in *Intents) object(id string) map[string]any {
	obj, ok := in.objects[id]
	if !ok {
		obj = map[string]any{}
		in.objects[id] = obj
	}
	return obj
}
