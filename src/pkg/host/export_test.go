package host

// SetEFIVarsDir points the Secure Boot checks at dir and returns a function
// restoring the previous location.
func SetEFIVarsDir(dir string) func() {
	orig := efiVarsDir
	efiVarsDir = dir
	return func() { efiVarsDir = orig }
}

// SetGeteuid replaces the effective uid lookup and returns a function
// restoring it.
func SetGeteuid(fn func() int) func() {
	orig := geteuid
	geteuid = fn
	return func() { geteuid = orig }
}
