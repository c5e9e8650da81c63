package fprint

import "github.com/Skryldev/fprint/core"

// Processor exposes the extraction worker pool for advanced use, such as
// registering a native codec backend on its registry.
func (c *Context) Processor() *core.Processor { return c.proc }

// Registry returns the codec registry.
func (c *Context) Registry() core.Registry { return c.reg }
