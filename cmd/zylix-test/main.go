// Command zylix-test runs cross-platform UI test suites.
package main

import "github.com/devicelab-dev/zylix-test/pkg/cli"

func main() {
	cli.Execute()
}
