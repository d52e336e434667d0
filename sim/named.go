package sim

// Named describes object that have a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	Named
	Hookable
	InvokeHook(HookCtx)
}
