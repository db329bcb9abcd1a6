// Package memory is an in-process object storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fnndsc/plinst/pkg/workloads/storage"
)

type object struct {
	content     []byte
	contentType string
}

type Store struct {
	mux     sync.RWMutex
	objects map[string]object
}

var _ storage.Store = &Store{}

func New() *Store {
	return &Store{objects: map[string]object{}}
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	ret := []string{}
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			ret = append(ret, p)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	o, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	return append([]byte{}, o.content...), nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, contentType string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.objects[path] = object{content: append([]byte{}, content...), contentType: contentType}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.objects, path)
	return nil
}

// ContentType returns the content type the object is put with.
func (s *Store) ContentType(path string) (string, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	o, ok := s.objects[path]
	return o.contentType, ok
}
