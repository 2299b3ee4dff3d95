package hyperlight

import "reflect"

// ExposeHostMethod registers fn under name in this sandbox's host-function
// registry (spec.md §4.8 expose_host_method). Only valid before the guest
// has been initialized: once the PEB is written the guest has already read
// its function table, so a later registration would never be seen. In
// practice this means calling it only from a SandboxConfig.InitFunc, since
// New writes the PEB before returning.
func (s *Sandbox) ExposeHostMethod(name string, fn any) error {
	return s.registry.Register(name, fn)
}

// ExposeHostMethods registers every entry of methods (spec.md §4.8
// expose_host_methods), in an unspecified order — callers relying on a
// particular overwrite order for duplicate names should call
// ExposeHostMethod individually instead.
func (s *Sandbox) ExposeHostMethods(methods map[string]any) error {
	for name, fn := range methods {
		if err := s.ExposeHostMethod(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// ExposeAndBindMembers registers every exported method of recv's type,
// bound to recv, under its own method name (spec.md §4.8
// expose_and_bind_members; SPEC_FULL §9's reflection-driven replacement for
// the source's bytecode-emitted marshaling — a one-time reflect.Type walk
// instead of a runtime code generator).
func (s *Sandbox) ExposeAndBindMembers(recv any) error {
	v := reflect.ValueOf(recv)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if err := s.ExposeHostMethod(m.Name, v.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
