package game

import (
	"github.com/jensholdgaard/twitch-raid-bot/internal/store"
	"github.com/jensholdgaard/twitch-raid-bot/internal/store/storetest"
)

func newMemRepos() *store.Repositories {
	return storetest.NewRepositories(testTitleLadder())
}

func testTitleLadder() []store.Title {
	return storetest.TitleLadder()
}
