package main

import (
	"context"

	"mydylms-backend/cmd/mydylms/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
