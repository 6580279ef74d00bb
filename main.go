// SPDX-License-Identifier: MPL-2.0

// Command modhost installs, enables and hosts versioned modules.
package main

import cmd "github.com/modhost/modhost/cmd/modhost"

func main() {
	cmd.Execute()
}
