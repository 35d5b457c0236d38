package relay

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"linkrelay/pkg/tgui"
)

// User-facing texts. The bot has always spoken Indonesian.
const (
	textWaiting          = "⏳ Sedang diproses, tunggu sebentar ⏳"
	textCacheFailed      = "❌ Gagal memeriksa cache."
	textAudioNotFound    = "❌ Audio tidak ditemukan."
	textAudioSendFailed  = "❌ Gagal memproses file."
	textGenericError     = "❌ Terjadi kesalahan."
	textAdminOnly        = "ngapain bang?, ini fitur khusus admin🗿"
	textBroadcastPrompt  = "📢 Masukkan isi pengumuman (bisa teks atau media):\nKetik /cancel untuk membatalkan."
	textBroadcastCancel  = "❌ Broadcast dibatalkan."
	textNothingToCancel  = "ℹ️ Tidak ada broadcast yang sedang menunggu."
	textUsersFailed      = "❌ Gagal ambil daftar user."
	textStatsFailed      = "❌ Gagal mengambil statistik."
	textDeliveryFailed   = "❌ Gagal mengirim media."
	buttonAudio          = "MUSIK"
	buttonAudioLink      = "LINK MUSIK"
	errorPrefix          = "⚠️ Error: "
	statsRule            = "————————————————————————"
	defaultCategoryLabel = "Link"
)

var categoryLabels = map[string]string{
	"tiktok": "TikTok",
}

func categoryLabel(c string) string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	if c == "" {
		return defaultCategoryLabel
	}
	r, size := utf8.DecodeRuneInString(c)
	return string(unicode.ToUpper(r)) + c[size:]
}

func waitingHTML() string { return tgui.BI(textWaiting).String() }

func menuHTML(categories []string) string {
	b := tgui.NewBuilder().
		HTML(tgui.BI("✨ BOT ONLINE ✨")).
		HTML(tgui.BI("✨SILAHKAN DIGUNAKAN✨")).
		Blank()
	for _, c := range categories {
		b.HTML(tgui.BI("✅ " + categoryLabel(c)))
	}
	return b.Build().String()
}

func unsupportedHTML(categories []string) string {
	labels := make([]string, 0, len(categories))
	for _, c := range categories {
		labels = append(labels, categoryLabel(c))
	}
	return tgui.Esc(errorPrefix + "❌ Link tidak dikenali. Hanya mendukung " + strings.Join(labels, ", ") + ".").String()
}

func resolutionFailedHTML(category string) string {
	return tgui.Esc(errorPrefix + "❌ Gagal memproses link " + categoryLabel(category) + ".").String()
}

func deliveryFailedHTML() string { return tgui.Esc(errorPrefix + textDeliveryFailed).String() }

// FormatUptime renders d as whole hours and minutes: "26 jam 5 menit".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%d jam %d menit", h, m)
}

// statsHTML renders a snapshot as a <pre> block with aligned labels.
func statsHTML(s Snapshot) string {
	type row struct{ icon, label, value string }
	rows := []row{{"🀄️", "Total User", fmt.Sprint(s.Users)}}
	cats := make([]string, 0, len(s.Requests))
	for c := range s.Requests {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		rows = append(rows, row{"💌", "Request " + categoryLabel(c), fmt.Sprint(s.Requests[c])})
	}
	rows = append(rows, row{"⌚️", "Uptime", FormatUptime(s.Uptime)})

	width := 0
	for _, r := range rows {
		width = max(width, len([]rune(r.label)))
	}
	var b strings.Builder
	b.WriteString("✨STATISTIK BOT✨\n")
	fmt.Fprintf(&b, "🧽 %d HARI\n", s.WindowDays)
	b.WriteString(statsRule + "\n")
	for i, r := range rows {
		pad := strings.Repeat(" ", width-len([]rune(r.label)))
		fmt.Fprintf(&b, "%s %s%s : %s", r.icon, r.label, pad, r.value)
		if i < len(rows)-1 {
			b.WriteByte('\n')
		}
	}
	return tgui.Pre(b.String()).String()
}

func broadcastSummaryHTML(r BroadcastReport) string {
	return tgui.NewBuilder().
		HTML(tgui.B("📢 Broadcast selesai")).
		KV("Terkirim", fmt.Sprintf("%d/%d", r.Delivered, r.Total)).
		KV("Gagal", fmt.Sprint(r.Failed)).
		Build().String()
}
