// Copyright 2024 The rtoscore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package idpool

import "testing"

func TestTakeReturnsLowestFreeID(t *testing.T) {
	p := New(4) // ids 1, 2, 3 free
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
	id, ok := p.Take()
	if !ok || id != 1 {
		t.Fatalf("Take() = (%d, %v), want (1, true)", id, ok)
	}
	id, ok = p.Take()
	if !ok || id != 2 {
		t.Fatalf("Take() = (%d, %v), want (2, true)", id, ok)
	}
	p.Return(1)
	id, ok = p.Take()
	if !ok || id != 1 {
		t.Fatalf("Take() after Return(1) = (%d, %v), want (1, true)", id, ok)
	}
}

func TestReservedIDsAreNeverHandedOut(t *testing.T) {
	p := New(5, 2, 3)
	for i := 0; i < 2; i++ {
		if id, ok := p.Take(); !ok || id == 2 || id == 3 {
			t.Fatalf("Take() = (%d, %v), reserved ids must never be handed out", id, ok)
		}
	}
}

func TestExhaustion(t *testing.T) {
	p := New(2) // only id 1 free
	if _, ok := p.Take(); !ok {
		t.Fatal("first Take() failed on a fresh pool")
	}
	if _, ok := p.Take(); ok {
		t.Fatal("Take() on an exhausted pool returned ok=true")
	}
}
