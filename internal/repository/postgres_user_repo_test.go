package repository

import (
	"testing"
)

// 各Postgres実装がインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
	var _ GuildRepository = (*PostgresGuildRepo)(nil)
	var _ ChannelRepository = (*PostgresChannelRepo)(nil)
	var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
	var _ ThreadRepository = (*PostgresThreadRepo)(nil)
	var _ MessageRepository = (*PostgresMessageRepo)(nil)
	var _ ReactionRepository = (*PostgresReactionRepo)(nil)
	var _ Store = (*PostgresStore)(nil)
}

// NewRepositoriesが全てのリポジトリを初期化することを検証
func TestNewRepositories_Initializes(t *testing.T) {
	r := NewRepositories(nil)
	if r.Users == nil || r.Identities == nil || r.Sessions == nil ||
		r.Guilds == nil || r.Channels == nil || r.Members == nil ||
		r.Threads == nil || r.Messages == nil || r.Reactions == nil {
		t.Fatalf("NewRepositories returned nil repository: %+v", r)
	}
}

func TestLockMode_Suffix(t *testing.T) {
	tests := []struct {
		mode LockMode
		want string
	}{
		{LockNone, ""},
		{LockShare, " FOR SHARE OF t"},
		{LockUpdate, " FOR UPDATE OF t"},
	}
	for _, tt := range tests {
		if got := tt.mode.suffix("t"); got != tt.want {
			t.Errorf("LockMode(%d).suffix() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestIsUUID(t *testing.T) {
	if !isUUID("7f1b6a3e-8d4c-4f2a-9b1e-0c2d3e4f5a6b") {
		t.Error("valid UUID should be accepted")
	}
	for _, s := range []string{"", "abc", "7f1b6a3e-8d4c-4f2a-9b1e"} {
		if isUUID(s) {
			t.Errorf("isUUID(%q) = true, want false", s)
		}
	}
}
