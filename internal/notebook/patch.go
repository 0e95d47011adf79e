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

package notebook

import (
	"fmt"
	"log/slog"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// applyPatch applies a diff-match-patch patch text to source, returning
// the merged result. Unresolvable hunks fall back to the patch library's
// fuzzy apply and are logged as a warning rather than failed.
func applyPatch(source, patchText string) (string, error) {
	dmp := diffmatchpatch.New()

	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("parse patch: %w", err)
	}

	merged, applied := dmp.PatchApply(patches, source)

	for i, ok := range applied {
		if !ok {
			slog.Warn("cell_contents/update patch hunk did not apply cleanly, using fuzzy merge result",
				"hunk_index", i,
			)
		}
	}

	return merged, nil
}
