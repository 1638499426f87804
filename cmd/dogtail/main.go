// Copyright (c) OpenMMLab. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/oliverbrowneprima/dogtail/logger"
	"github.com/oliverbrowneprima/dogtail/pkg/client"
)

func main() {
	dogtail := client.NewDogtailCommand()

	err := dogtail.Execute()
	logger.Logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
