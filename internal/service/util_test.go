package service_test

import (
	"sort"
	"testing"

	"Parley/internal/service"
)

func TestFilterAndKeys(t *testing.T) {
	even := service.Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 2 || even[1] != 4 {
		t.Fatalf("unexpected filter result %v", even)
	}

	speaking := service.FilterMap(map[string]bool{"bob": true, "carol": false, "dave": true},
		func(_ string, v bool) bool { return v })
	keys := service.Keys(speaking)
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "bob" || keys[1] != "dave" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
