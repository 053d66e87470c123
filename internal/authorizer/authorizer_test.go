// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package authorizer

import (
	"testing"

	"github.com/nishisan-dev/beam/internal/transfer/descriptor"
)

func TestStatic_AcceptAndRequestKey(t *testing.T) {
	a := Static{AcceptAll: true, Key: "ABC123"}
	if !a.Accept(descriptor.TransferDescriptor{Filename: "x"}) {
		t.Fatalf("expected Accept to return true")
	}
	if got := a.RequestKey(); got != "ABC123" {
		t.Fatalf("got key %q, want ABC123", got)
	}
}

func TestStatic_Reject(t *testing.T) {
	a := Static{AcceptAll: false}
	if a.Accept(descriptor.TransferDescriptor{}) {
		t.Fatalf("expected Accept to return false")
	}
}
