package main

import (
	"github.com/JakeFAU/seo-auditor/cmd"
)

func main() {
	cmd.Execute()
}
