package main

import (
	"github.com/rs/zerolog/log"
)

func main() {
	// main 只负责执行命令；默认命令即 serve。
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("koalatalk")
	}
}
