// Command trackr はマンガ読書リストの取り込みAPIサーバーを起動する。
//
//	trackr serve        APIサーバーを起動する（既定）
//	trackr migrate      データベースマイグレーションを適用する
//	trackr healthcheck  /health を確認する（コンテナのヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ted-sama/trackr/internal/app"
)

func main() {
	// .env はローカル開発用。無くても環境変数だけで起動できる
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "trackr: %v\n", err)
		os.Exit(1)
	}
}
