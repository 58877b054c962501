package commands

import (
	"encoding/json"
	"fmt"

	"github.com/loomlabs/loom/internal/config"
)

func printConfigJSON(cfg *config.Config) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Printf("error marshaling config: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
