package host

import "sync"

// Credential is a secret that is handed to exactly the child processes it is
// attached to, through their environment. It never touches the environment
// of the current process.
type Credential struct {
	mu    sync.Mutex
	name  string
	value []byte
}

// NewCredential returns a credential exported to children as name.
func NewCredential(name, value string) *Credential {
	return &Credential{name: name, value: []byte(value)}
}

// Env returns the NAME=value entry to put in a Command's Env. It returns nil
// once the credential has been cleared.
func (c *Credential) Env() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil
	}
	return []string{c.name + "=" + string(c.value)}
}

// Clear overwrites and drops the secret value.
func (c *Credential) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.value {
		c.value[i] = 0
	}
	c.value = nil
}
