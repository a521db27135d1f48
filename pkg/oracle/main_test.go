// SPDX-License-Identifier: Apache-2.0

package oracle_test

import (
	"testing"

	"github.com/pgscope/pgscope/internal/testharness"
)

func TestMain(m *testing.M) {
	testharness.SharedTestMain(m)
}
