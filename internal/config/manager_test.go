package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerGetReturnsClone(t *testing.T) {
	m := NewManager(Default())
	a := m.Get()
	a.Budget.DailyUSD = 999
	b := m.Get()
	require.NotEqual(t, a.Budget.DailyUSD, b.Budget.DailyUSD)
}

func TestManagerSetReplacesConfig(t *testing.T) {
	m := NewManager(Default())
	next := Default()
	next.Budget.DailyUSD = 42
	m.Set(next)
	require.Equal(t, 42.0, m.Get().Budget.DailyUSD)
}

func TestManagerReloadRequiresPath(t *testing.T) {
	m := NewManager(Default())
	require.Error(t, m.Reload(""))
}

func TestManagerIsSafeForConcurrentReaders(t *testing.T) {
	m := NewManager(Default())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Get()
		}()
	}
	wg.Wait()
}

func TestNilManagerMethodsAreSafe(t *testing.T) {
	var m *RWMutexManager
	require.Nil(t, m.Get())
	require.NotPanics(t, func() { m.Set(Default()) })
	require.Error(t, m.Reload("anything"))
}
