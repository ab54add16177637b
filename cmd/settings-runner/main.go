// Command settings-runner automates the Android Settings app over adb.
package main

import "github.com/devicelab-dev/settings-runner/pkg/cli"

func main() {
	cli.Execute()
}
