package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	// セッションのリフレッシュはサーバープロセス内のワーカーが行う。
	CommandServe Command = "serve"
	// CommandMigrate はprofiles/predictionsテーブルのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commandAliases は旧構成との互換のためのサブコマンド名。
// リフレッシュワーカーはserveに統合されたため、workerはserveとして扱う。
var commandAliases = map[string]Command{
	"worker": CommandServe,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandMigrate, CommandHealthcheck:
		return cmd, nil
	}
	if cmd, ok := commandAliases[args[0]]; ok {
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command %q: expected serve, migrate or healthcheck", args[0])
}
