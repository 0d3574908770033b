package lua

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// CompiledScript is a script compiled once and shared by every pooled state.
type CompiledScript struct {
	Name        string
	Proto       *lua.FunctionProto
	CompileTime time.Time
	Hash        string
}

// ScriptCompiler compiles scripts to bytecode and caches them by name.
type ScriptCompiler struct {
	mu    sync.RWMutex
	cache map[string]*CompiledScript
}

// NewScriptCompiler creates an empty compiler cache.
func NewScriptCompiler() *ScriptCompiler {
	return &ScriptCompiler{cache: make(map[string]*CompiledScript)}
}

// Compile parses and compiles content and caches the result under name.
func (c *ScriptCompiler) Compile(name, content string) (*CompiledScript, error) {
	chunk, err := parse.Parse(strings.NewReader(content), name)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile error in %s: %w", name, err)
	}

	compiled := &CompiledScript{
		Name:        name,
		Proto:       proto,
		CompileTime: time.Now(),
		Hash:        calculateHash(content),
	}

	c.mu.Lock()
	c.cache[name] = compiled
	c.mu.Unlock()
	return compiled, nil
}

// Get returns a cached script.
func (c *ScriptCompiler) Get(name string) (*CompiledScript, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	script, exists := c.cache[name]
	return script, exists
}

// Run executes the compiled chunk in L.
func (s *CompiledScript) Run(L *lua.LState) error {
	L.Push(L.NewFunctionFromProto(s.Proto))
	return L.PCall(0, lua.MultRet, nil)
}

func calculateHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash[:8])
}
