// Package authz はギルド内での操作可否を判定する純粋関数を提供する。
//
// 判定に必要な事実（メンバーシップ、ロール権限）は呼び出し側が
// model.MemberFacts として渡す。このパッケージはI/Oを行わず、
// 事実が欠けている場合は常に false を返す。
package authz

import "github.com/hitoshi/guildfire/internal/model"

// IsGuildMember はユーザーがギルドのメンバーかどうかを返す。
func IsGuildMember(facts *model.MemberFacts) bool {
	return facts != nil && facts.IsMember
}

// HasGuildPermission はユーザーのいずれかのロールが権限タグを持つかを返す。
// admin タグは他の全ての権限を包含する。
// ロールはメンバーにのみ割り当てられるため、非メンバーは常に false。
func HasGuildPermission(facts *model.MemberFacts, perm model.Permission) bool {
	if !IsGuildMember(facts) {
		return false
	}
	for _, granted := range facts.Permissions {
		if granted == perm || granted == model.PermAdmin {
			return true
		}
	}
	return false
}

// IsAdmin はユーザーがギルドの管理者権限を持つかを返す。
func IsAdmin(facts *model.MemberFacts) bool {
	return HasGuildPermission(facts, model.PermAdmin)
}

// CanCreateThread はチャンネルにスレッドを作成できるかを返す。
func CanCreateThread(facts *model.MemberFacts) bool {
	return IsGuildMember(facts)
}

// CanPostMessage はスレッドにメッセージを投稿できるかを返す。
// ロック中のスレッドには管理者のみ投稿できる。
func CanPostMessage(facts *model.MemberFacts, thread *model.Thread) bool {
	if thread == nil || !IsGuildMember(facts) {
		return false
	}
	if thread.IsLocked {
		return IsAdmin(facts)
	}
	return true
}

// CanModerateThread はスレッドのロック・ロック解除ができるかを返す。
func CanModerateThread(facts *model.MemberFacts) bool {
	return IsAdmin(facts)
}

// CanEditMessage はメッセージを編集できるかを返す。作成者本人のみ。
func CanEditMessage(actorID string, msg *model.Message) bool {
	return msg != nil && actorID != "" && msg.AuthorID == actorID
}

// Policy はギルド共通の認可ポリシー設定。
// ゼロ値は「削除は作成者のみ」「リアクションはメンバーシップ不要」となる。
type Policy struct {
	// AdminDeleteAny が true の場合、delete_any 権限を持つユーザーは
	// 他人のメッセージも削除できる。
	AdminDeleteAny bool
	// ReactionsRequireMembership が true の場合、リアクションにギルドの
	// メンバーシップを要求する。
	ReactionsRequireMembership bool
}

// CanDeleteMessage はメッセージを論理削除できるかを返す。
func (p Policy) CanDeleteMessage(actorID string, msg *model.Message, facts *model.MemberFacts) bool {
	if msg == nil || actorID == "" {
		return false
	}
	if msg.AuthorID == actorID {
		return true
	}
	return p.AdminDeleteAny && HasGuildPermission(facts, model.PermDeleteAny)
}

// CanReact はメッセージにリアクションできるかを返す。
func (p Policy) CanReact(facts *model.MemberFacts) bool {
	if !p.ReactionsRequireMembership {
		return true
	}
	return IsGuildMember(facts)
}

// NeedsFactsForReaction はリアクション判定にメンバーシップの取得が必要かを返す。
func (p Policy) NeedsFactsForReaction() bool {
	return p.ReactionsRequireMembership
}
