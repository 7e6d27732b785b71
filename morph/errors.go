// Copyright 2024 The morph authors
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

package morph

import (
	"fmt"
	"strings"
)

// SchemaError reports an expression or definition that cannot produce a
// well-formed relation schema: incompatible columns, colliding names, or a
// missing key where one is required.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Reason)
}

func schemaErrorf(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// AlignmentError reports a source value that could not be matched against a
// reference domain or vocabulary.
type AlignmentError struct {
	Column string
	Value  string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment error: value '%s' in column '%s' has no match in the reference relation", e.Value, e.Column)
}

// GuardError reports an alter or drop intent rejected by the evolution
// context's guard settings.
type GuardError struct {
	Intent Intent
	Guard  string // "allow_alter" or "allow_drop"
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard error: %s requires %s=true", e.Intent.Describe(), e.Guard)
}

// ClosedContextError reports a mutation attempted on an evolution context
// after it was closed.
type ClosedContextError struct {
	State State
}

func (e *ClosedContextError) Error() string {
	return fmt.Sprintf("closed context error: context is %s", e.State)
}

// RemoteError wraps a transport, auth, or server-side failure from the remote
// catalog.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s: %s", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func remoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// CommitError reports a partially applied mutation queue. Intents in Applied
// took effect on the remote catalog and cannot be rolled back; Failed and
// Remaining did not run.
type CommitError struct {
	Applied   []Intent
	Failed    Intent
	Remaining []Intent
	Err       error
}

func (e *CommitError) Error() string {
	applied := make([]string, len(e.Applied))
	for i, in := range e.Applied {
		applied[i] = in.Describe()
	}
	return fmt.Sprintf("commit error: %s failed after %d intent(s) applied [%s] with %d remaining: %s",
		e.Failed.Describe(), len(e.Applied), strings.Join(applied, "; "), len(e.Remaining), e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
