package event

import (
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Declaration is one mod's documentation for an event.
type Declaration struct {
	OwnerMod    string
	Description string
	Params      []string
}

// EventDescriptor holds every declaration made for an event name. Several
// mods may declare the same event; all declarations are kept in order.
type EventDescriptor struct {
	Name         string
	Declarations []Declaration
}

func (d *EventDescriptor) clone() EventDescriptor {
	out := EventDescriptor{Name: d.Name, Declarations: make([]Declaration, len(d.Declarations))}
	for i, decl := range d.Declarations {
		decl.Params = slices.Clone(decl.Params)
		out.Declarations[i] = decl
	}
	return out
}

// RegisterEvent records documentation for eventName on behalf of modName.
// Declarations are purely informational; firing and listening work for
// undeclared events too.
func (b *Bus) RegisterEvent(eventName, modName, description string, params []string) {
	b.mu.Lock()
	b.initLocked()
	desc, ok := b.events[eventName]
	if !ok {
		desc = &EventDescriptor{Name: eventName}
		b.events[eventName] = desc
	}
	desc.Declarations = append(desc.Declarations, Declaration{
		OwnerMod:    modName,
		Description: description,
		Params:      slices.Clone(params),
	})
	count := len(desc.Declarations)
	b.mu.Unlock()

	b.log.Info("event declared",
		zap.String("event", eventName),
		zap.String("mod", modName),
		zap.Strings("params", params),
		zap.Int("declarations", count),
	)
}

// Event returns the descriptor for eventName.
func (b *Bus) Event(eventName string) (EventDescriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	desc, ok := b.events[eventName]
	if !ok {
		return EventDescriptor{}, false
	}
	return desc.clone(), true
}

// Events returns every declared event sorted by name.
func (b *Bus) Events() []EventDescriptor {
	b.mu.Lock()
	out := make([]EventDescriptor, 0, len(b.events))
	for _, desc := range b.events {
		out = append(out, desc.clone())
	}
	b.mu.Unlock()
	sortDescriptors(out)
	return out
}

// EventsByMod returns the events modName declared. Each descriptor carries
// only that mod's declarations.
func (b *Bus) EventsByMod(modName string) []EventDescriptor {
	b.mu.Lock()
	var out []EventDescriptor
	for _, desc := range b.events {
		var mine []Declaration
		for _, decl := range desc.Declarations {
			if decl.OwnerMod == modName {
				decl.Params = slices.Clone(decl.Params)
				mine = append(mine, decl)
			}
		}
		if len(mine) > 0 {
			out = append(out, EventDescriptor{Name: desc.Name, Declarations: mine})
		}
	}
	b.mu.Unlock()
	sortDescriptors(out)
	return out
}

func sortDescriptors(ds []EventDescriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}

// DebugListEvents logs every declared event with its declarations.
func (b *Bus) DebugListEvents() {
	events := b.Events()
	b.log.Info("declared events", zap.Int("count", len(events)))
	for _, desc := range events {
		b.logDescriptor(desc)
	}
}

// DebugListEventsByMod logs the events declared by modName.
func (b *Bus) DebugListEventsByMod(modName string) {
	events := b.EventsByMod(modName)
	b.log.Info("declared events by mod", zap.String("mod", modName), zap.Int("count", len(events)))
	for _, desc := range events {
		b.logDescriptor(desc)
	}
}

// DebugListListeners logs eventName's listeners in dispatch order.
func (b *Bus) DebugListListeners(eventName string) {
	infos := b.ListenersOf(eventName)
	b.log.Info("listeners",
		zap.String("event", eventName),
		zap.Int("count", len(infos)),
		zap.Int("cached", b.CachedCount(eventName)),
	)
	for i, li := range infos {
		b.log.Info("  listener",
			zap.Int("order", i+1),
			zap.String("mod", li.OwnerMod),
			zap.Bool("once", li.Once),
		)
	}
}

func (b *Bus) logDescriptor(desc EventDescriptor) {
	for _, decl := range desc.Declarations {
		b.log.Info("  event",
			zap.String("event", desc.Name),
			zap.String("mod", decl.OwnerMod),
			zap.String("description", decl.Description),
			zap.String("params", strings.Join(decl.Params, ", ")),
		)
	}
}
