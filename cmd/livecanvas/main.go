/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"livecanvas/internal/cli"
	"livecanvas/internal/crash"
	applog "livecanvas/internal/log"
	"livecanvas/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	// logging from env until the config is loaded by the root command
	applog.Init(applog.FromEnv())
	target := &crash.Target{}
	defer crash.Recover(target)

	err := cli.NewRootCommand(target).ExecuteContext(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	telemetry.Flush(ctx)
	cancel()

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
