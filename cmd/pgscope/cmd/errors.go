// SPDX-License-Identifier: Apache-2.0

package cmd

import "errors"

var errUnknownOutputFormat = errors.New("unknown --output format, expected one of: json, yaml, pretty")
