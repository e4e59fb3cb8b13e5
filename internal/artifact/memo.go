package artifact

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds successfully decoded reports keyed by repo and run.
type Cache struct {
	data sync.Map
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) Get(key string) (*Report, bool) {
	v, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Report), true
}

func (c *Cache) Set(key string, rep *Report) {
	c.data.Store(key, rep)
}

// Group de-duplicates concurrent fetches of the same key.
type Group struct {
	g singleflight.Group
}

func (g *Group) Do(key string, fn func() (*Report, error)) (*Report, error, bool) {
	v, err, shared := g.g.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err, shared
	}
	return v.(*Report), nil, shared
}
