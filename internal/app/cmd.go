// Package app はgrowthdashの起動処理を提供する。
// サブコマンドに応じてAPIサーバー、同期ワーカー、マイグレーション、ヘルスチェックを実行する。
package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモード。認証セッションとダッシュボードAPIを提供する。
	CommandServe Command = "serve"
	// CommandWorker は外部連携の指標同期とスナップショットのクリーンアップを行うモード。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(strings.ToLower(strings.TrimSpace(args[0]))); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		return CommandServe
	}
}
