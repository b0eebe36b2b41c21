package surface

import (
	"fmt"
	"sync"

	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/render"
	"github.com/vellumedit/vellum/internal/view"
)

// ViewStateProvider is implemented by surfaces that can report their live
// cursor/scroll/selection state. The registry uses it when the coordinator
// captures the outgoing view during a mode switch.
type ViewStateProvider interface {
	LiveView() document.ViewState
}

// CaptureView returns the live view state of a handle's surface, when the
// surface can provide one.
func (r *Registry) CaptureView(h *Handle) (document.ViewState, bool) {
	s, err := h.deliverable()
	if err != nil {
		return document.ViewState{}, false
	}
	p, ok := s.(ViewStateProvider)
	if !ok {
		return document.ViewState{}, false
	}
	return p.LiveView(), true
}

// EditorSurface is the built-in rich-edit surface. It hosts a TextWidget
// and forwards user edits to the core as content-changed envelopes.
type EditorSurface struct {
	mu     sync.Mutex
	id     document.Identity
	widget TextWidget
	emit   func(Envelope)
	scroll float64
	closed bool
}

// NewEditorSurface creates a rich-edit surface around the widget and
// signals readiness immediately; an in-process widget has no async
// initialization.
func NewEditorSurface(id document.Identity, widget TextWidget, emit func(Envelope)) *EditorSurface {
	s := &EditorSurface{id: id, widget: widget, emit: emit}

	widget.OnContentChanged(func(content string) {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		emit(MustEnvelope(TypeContentChanged, ContentChangedPayload{Content: content}))
	})

	emit(MustEnvelope(TypeSurfaceReady, nil))
	return s
}

// Deliver handles envelopes from the core.
func (s *EditorSurface) Deliver(env Envelope) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSurfaceDisposed
	}
	s.mu.Unlock()

	switch env.Type {
	case TypeContentChanged:
		var p ContentChangedPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		s.widget.SetValue(p.Content)
		return nil

	case TypeModeSwitch:
		var p ModeSwitchPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		s.widget.SetSelection(p.PreservedView.Cursor, p.PreservedView.Selections)
		s.mu.Lock()
		s.scroll = p.PreservedView.ScrollOffset
		s.mu.Unlock()
		reply, err := env.Reply(nil)
		if err != nil {
			return err
		}
		s.emit(reply)
		return nil

	case TypeConfigUpdate, TypeError:
		// Nothing for an in-process widget to do with these.
		return nil

	default:
		return fmt.Errorf("%w: editor surface cannot handle %s", ErrMalformedPayload, env.Type)
	}
}

// LiveView implements ViewStateProvider.
func (s *EditorSurface) LiveView() document.ViewState {
	cursor, selections := s.widget.Selection()
	s.mu.Lock()
	scroll := s.scroll
	s.mu.Unlock()
	return document.ViewState{Cursor: cursor, ScrollOffset: scroll, Selections: selections}
}

// SetScroll records a scroll position change from the host.
func (s *EditorSurface) SetScroll(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
}

// Widget exposes the embedded widget to the host shell.
func (s *EditorSurface) Widget() TextWidget {
	return s.widget
}

// Close releases the surface.
func (s *EditorSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RenderedSurface is the built-in read-only rendered view. Every content
// push is converted to HTML; edits never originate here.
type RenderedSurface struct {
	mu       sync.Mutex
	id       document.Identity
	renderer *render.Renderer
	emit     func(Envelope)
	html     string
	scroll   float64
	closed   bool
}

// NewRenderedSurface creates a rendered surface.
func NewRenderedSurface(id document.Identity, renderer *render.Renderer, emit func(Envelope)) *RenderedSurface {
	s := &RenderedSurface{id: id, renderer: renderer, emit: emit}
	emit(MustEnvelope(TypeSurfaceReady, nil))
	return s
}

// Deliver handles envelopes from the core.
func (s *RenderedSurface) Deliver(env Envelope) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSurfaceDisposed
	}
	s.mu.Unlock()

	switch env.Type {
	case TypeContentChanged:
		var p ContentChangedPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		html, err := s.renderer.HTML(p.Content)
		if err != nil {
			s.emit(MustEnvelope(TypeError, ErrorPayload{
				Message: err.Error(),
				Context: "render",
			}))
			return nil
		}
		s.mu.Lock()
		s.html = html
		s.mu.Unlock()
		return nil

	case TypeModeSwitch:
		var p ModeSwitchPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		s.mu.Lock()
		s.scroll = p.PreservedView.ScrollOffset
		s.mu.Unlock()
		reply, err := env.Reply(nil)
		if err != nil {
			return err
		}
		s.emit(reply)
		return nil

	case TypeConfigUpdate, TypeError:
		return nil

	default:
		return fmt.Errorf("%w: rendered surface cannot handle %s", ErrMalformedPayload, env.Type)
	}
}

// LiveView implements ViewStateProvider. Rendered views only track scroll.
func (s *RenderedSurface) LiveView() document.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return document.ViewState{ScrollOffset: s.scroll}
}

// SetScroll records a scroll position change from the host.
func (s *RenderedSurface) SetScroll(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
}

// HTML returns the most recently rendered output.
func (s *RenderedSurface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// Close releases the surface.
func (s *RenderedSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NewBuiltinFactory returns a factory producing the in-process surfaces.
// Split mode is composed by the coordinator from a rich-edit and a rendered
// surface, so the factory only ever sees those two modes.
func NewBuiltinFactory(renderer *render.Renderer) Factory {
	return func(id document.Identity, mode view.Mode, emit func(Envelope)) (Surface, error) {
		switch mode {
		case view.ModeRichEdit:
			return NewEditorSurface(id, NewMemWidget(), emit), nil
		case view.ModeRendered:
			return NewRenderedSurface(id, renderer, emit), nil
		default:
			return nil, fmt.Errorf("%w for mode %s", ErrNoFactory, mode)
		}
	}
}
