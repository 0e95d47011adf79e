// Copyright (c) 2026 John Earle
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

package rtu

import (
	"fmt"
	"strings"
	"testing"
)

func TestIsRejection_MatchesWrappedRejectionError(t *testing.T) {
	rej := &RejectionError{Event: "delta_rejected", Cause: "stale_parent", Message: "parent delta not found"}
	wrapped := fmt.Errorf("submit delta d1: %w", rej)

	if !IsRejection(wrapped) {
		t.Fatal("expected IsRejection to see through fmt.Errorf wrapping")
	}
	if IsRejection(fmt.Errorf("some other failure")) {
		t.Fatal("IsRejection should not match an unrelated error")
	}
}

func TestIsCancelled_MatchesWrappedCancelledError(t *testing.T) {
	ce := &CancelledError{Event: "new_delta_request"}
	wrapped := fmt.Errorf("submit delta d1: %w", ce)

	if !IsCancelled(wrapped) {
		t.Fatal("expected IsCancelled to see through fmt.Errorf wrapping")
	}
	if IsCancelled(fmt.Errorf("some other failure")) {
		t.Fatal("IsCancelled should not match an unrelated error")
	}
}

func TestRejectionError_ErrorIncludesEventCauseAndMessage(t *testing.T) {
	rej := &RejectionError{Event: "invalid_data", Cause: "bad_patch", Message: "patch did not apply"}
	got := rej.Error()
	for _, want := range []string{"invalid_data", "bad_patch", "patch did not apply"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error() = %q, missing %q", got, want)
		}
	}
}
