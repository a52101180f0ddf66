package pipeline

import (
	"context"
	"sync"
)

// Pipeline owns the elements of one call and the event bus they share.
// Start brings elements up in add order; Stop tears them down in reverse.
type Pipeline struct {
	sync.Mutex
	name     string
	bus      Bus
	elements []Element
}

func NewPipeline(name string) *Pipeline {
	return &Pipeline{
		name:     name,
		bus:      NewEventBus(),
		elements: []Element{},
	}
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) AddElement(element Element) {
	p.Lock()
	defer p.Unlock()
	element.SetBus(p.bus)
	p.elements = append(p.elements, element)
}

func (p *Pipeline) AddElements(elements []Element) {
	p.Lock()
	defer p.Unlock()
	for _, element := range elements {
		element.SetBus(p.bus)
	}
	p.elements = append(p.elements, elements...)
}

// Link forwards a's output into b's input until a's output closes.
func (p *Pipeline) Link(a, b Element) {
	go func() {
		for msg := range a.Out() {
			b.In() <- msg
		}
		close(b.In())
	}()
}

func (p *Pipeline) Bus() Bus {
	return p.bus
}

func (p *Pipeline) Start(ctx context.Context) error {
	p.Lock()
	defer p.Unlock()
	for _, e := range p.elements {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	for _, e := range p.elements {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	return p.bus.Start(ctx)
}

func (p *Pipeline) Stop() error {
	p.Lock()
	defer p.Unlock()
	var firstErr error
	for i := len(p.elements) - 1; i >= 0; i-- {
		if err := p.elements[i].Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.bus.Stop()
	return firstErr
}
