// Package music implements the music player tool.
//
// Player state (playing, current track, volume) lives in the tool. When a
// "player_command" is configured the current track is handed to that command
// as its last argument; otherwise only the state changes.
package music

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/MrWong99/parla/internal/tools"
)

const volumeStep = 10

var (
	_ tools.Tool    = (*Tool)(nil)
	_ tools.Enabler = (*Tool)(nil)
	_ io.Closer     = (*Tool)(nil)
)

// State is a snapshot of the player.
type State struct {
	Playing bool
	Track   int
	Volume  int
}

// Tool is the music player.
type Tool struct {
	playlist []string
	command  string
	runner   tools.Runner

	mu      sync.Mutex
	playing bool
	track   int
	volume  int
	proc    tools.Process
}

// Option configures a [Tool].
type Option func(*Tool)

// WithPlaylist sets the tracks, as file paths or URLs.
func WithPlaylist(tracks ...string) Option {
	return func(t *Tool) { t.playlist = tracks }
}

// WithPlayer sets the command line started for each track.
func WithPlayer(command string, r tools.Runner) Option {
	return func(t *Tool) {
		t.command = command
		if r != nil {
			t.runner = r
		}
	}
}

// New returns a stopped player at volume 50.
func New(opts ...Option) *Tool {
	t := &Tool{volume: 50, runner: tools.ExecRunner{}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Factory builds a [Tool] from "playlist", "player_command" and "volume".
func Factory(_ context.Context, s tools.Settings) (tools.Tool, error) {
	t := New(
		WithPlaylist(s.Strings("playlist", nil)...),
		WithPlayer(s.String("player_command", ""), nil),
	)
	t.volume = clamp(s.Int("volume", 50))
	return t, nil
}

var (
	stopWords   = []string{"暂停", "停止", "别放了"}
	nextWords   = []string{"下一首", "下一曲", "切歌"}
	prevWords   = []string{"上一首", "上一曲"}
	volumeWords = []string{"音量", "声音", "大声", "小声"}
	playWords   = []string{"播放", "开始", "继续", "放一首", "来一首", "听"}

	artistRe = regexp.MustCompile(`(?:播放|放|听)(?:一首|一些|点)?(.+?)的(?:歌|音乐|专辑)`)
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Run implements [tools.Tool]. Stop words are checked before play words so
// that "停止播放" pauses.
func (t *Tool) Run(_ context.Context, query string) (string, error) {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, stopWords):
		return t.pause()
	case containsAny(q, nextWords):
		return t.skip(1)
	case containsAny(q, prevWords):
		return t.skip(-1)
	case containsAny(q, volumeWords):
		return t.adjustVolume(q)
	case containsAny(q, playWords):
		return t.play(q)
	default:
		status := "已暂停"
		if t.Snapshot().Playing {
			status = "正在播放"
		}
		return fmt.Sprintf("音乐播放器：%s。说'播放音乐'开始播放，'暂停'停止播放。", status), nil
	}
}

// Snapshot returns the current state.
func (t *Tool) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Playing: t.playing, Track: t.track, Volume: t.volume}
}

func (t *Tool) play(q string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	label := ""
	if i := t.findTrack(q); i >= 0 {
		t.track = i
		label = trackName(t.playlist[i])
	}
	if err := t.startLocked(); err != nil {
		return "", err
	}
	t.playing = true

	switch {
	case label != "":
		return "开始播放 " + label, nil
	case artistRe.MatchString(q):
		return fmt.Sprintf("开始播放%s的音乐", artistRe.FindStringSubmatch(q)[1]), nil
	case strings.Contains(q, "轻音乐") || strings.Contains(q, "轻松"):
		return "开始播放轻音乐", nil
	case len(t.playlist) > 0:
		return "开始播放音乐：" + trackName(t.playlist[t.track]), nil
	default:
		return "开始播放音乐", nil
	}
}

func (t *Tool) pause() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.playing = false
	return "音乐已暂停", nil
}

func (t *Tool) skip(delta int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	word := "下"
	if delta < 0 {
		word = "上"
	}
	if len(t.playlist) == 0 {
		return fmt.Sprintf("切换到%s一首歌曲", word), nil
	}
	n := len(t.playlist)
	t.track = ((t.track+delta)%n + n) % n
	if t.playing {
		if err := t.startLocked(); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("切换到%s一首歌曲：%s", word, trackName(t.playlist[t.track])), nil
}

func (t *Tool) adjustVolume(q string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case containsAny(q, []string{"大", "高", "增加", "调高"}):
		t.volume = clamp(t.volume + volumeStep)
		return fmt.Sprintf("已调高音量，当前音量 %d%%", t.volume), nil
	case containsAny(q, []string{"小", "低", "减少", "调低"}):
		t.volume = clamp(t.volume - volumeStep)
		return fmt.Sprintf("已调低音量，当前音量 %d%%", t.volume), nil
	default:
		return fmt.Sprintf("当前音量 %d%%", t.volume), nil
	}
}

// findTrack returns the playlist index whose name appears in q, or -1.
func (t *Tool) findTrack(q string) int {
	for i, p := range t.playlist {
		name := strings.ToLower(trackName(p))
		if name != "" && strings.Contains(q, name) {
			return i
		}
	}
	return -1
}

// startLocked (re)starts the player command for the current track. Caller
// holds t.mu.
func (t *Tool) startLocked() error {
	t.stopLocked()
	if t.command == "" || len(t.playlist) == 0 {
		return nil
	}
	name, args := tools.SplitCommand(t.command)
	p, err := t.runner.Start(name, append(args, t.playlist[t.track])...)
	if err != nil {
		return fmt.Errorf("music: start player: %w", err)
	}
	t.proc = p
	return nil
}

func (t *Tool) stopLocked() {
	if t.proc != nil {
		_ = t.proc.Stop()
		t.proc = nil
	}
}

// Enable implements [tools.Enabler]. The player stays paused until asked.
func (t *Tool) Enable() error { return nil }

// Disable implements [tools.Enabler]; it stops playback.
func (t *Tool) Disable() error {
	_, err := t.pause()
	return err
}

// Close implements [io.Closer].
func (t *Tool) Close() error { return t.Disable() }

func trackName(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func clamp(v int) int {
	return max(0, min(100, v))
}
