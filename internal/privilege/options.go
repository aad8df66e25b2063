// Copyright 2025 Tom Barlow
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

package privilege

// Option configures a Gate.
type Option func(*Gate)

// WithAccounts replaces the OS user and group lookups.
// This is primarily used for testing.
func WithAccounts(a Accounts) Option {
	return func(g *Gate) {
		g.accounts = a
	}
}

// WithCommandRunner replaces how the elevation probe is executed.
func WithCommandRunner(run CommandRunner) Option {
	return func(g *Gate) {
		g.run = run
	}
}

// WithAccessFunc replaces the access(2) check used for log paths.
func WithAccessFunc(access func(path string, mode uint32) error) Option {
	return func(g *Gate) {
		g.access = access
	}
}
