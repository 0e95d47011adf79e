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

package router

import (
	"strings"

	"github.com/noteable-io/origami-go/internal/wire"
)

// ByTransactionID matches replies correlated to a specific outbound
// request.
func ByTransactionID(id string) Predicate {
	return func(f wire.Frame) bool { return f.TransactionID == id }
}

// ByEvent matches frames with exactly the given event name, on any
// channel.
func ByEvent(event string) Predicate {
	return func(f wire.Frame) bool { return f.Event == event }
}

// ByEvents matches frames whose event is any of the given names.
func ByEvents(events ...string) Predicate {
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e] = true
	}
	return func(f wire.Frame) bool { return set[f.Event] }
}

// ByChannel matches frames on exactly the given channel.
func ByChannel(channel string) Predicate {
	return func(f wire.Frame) bool { return f.Channel == channel }
}

// ByChannelPrefix matches frames whose channel starts with prefix
// followed by "/", or equals prefix exactly. Covers the channel
// vocabulary "system", "files/{uuid}", "kernels/{pod}".
func ByChannelPrefix(prefix string) Predicate {
	return func(f wire.Frame) bool {
		return f.Channel == prefix || strings.HasPrefix(f.Channel, prefix+"/")
	}
}

// And combines predicates, matching only if all match.
func And(preds ...Predicate) Predicate {
	return func(f wire.Frame) bool {
		for _, p := range preds {
			if !p(f) {
				return false
			}
		}
		return true
	}
}

// Or combines predicates, matching if any match.
func Or(preds ...Predicate) Predicate {
	return func(f wire.Frame) bool {
		for _, p := range preds {
			if p(f) {
				return true
			}
		}
		return false
	}
}

// AnyErrorEvent matches any of the uniformly-recognized error variants
// on any channel.
func AnyErrorEvent() Predicate {
	return func(f wire.Frame) bool { return wire.IsErrorEvent(f.Event) }
}
