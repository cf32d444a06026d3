package parser

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
)

const articleURL = "https://mp.weixin.qq.com/s/abc123"

func newTestParser() *Parser {
	return New(logger.NewNopLogger())
}

func urls(ds []models.ImageDescriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.URL
	}
	return out
}

func TestParseDocumentOrderAndDedup(t *testing.T) {
	markup := `<html><body>
		<img src="https://cdn.example.com/a.jpg">
		<p><img src="/b.png" alt=" second "></p>
		<img src="https://CDN.example.com/a.jpg#frag">
		<img src="c.webp">
	</body></html>`

	ds, err := newTestParser().Parse(markup, articleURL)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://mp.weixin.qq.com/b.png",
		"https://mp.weixin.qq.com/s/c.webp",
	}, urls(ds))

	for i, d := range ds {
		assert.Equal(t, i, d.Index, "indices are dense after dedup")
	}
	assert.Equal(t, "second", ds[1].Alt)
}

func TestParseAttributePriority(t *testing.T) {
	tests := []struct {
		name     string
		img      string
		expected string
		lazy     bool
	}{
		{
			name:     "lazy attribute beats placeholder src",
			img:      `<img src="data:image/gif;base64,R0lGOD" data-src="https://mmbiz.qpic.cn/x/640?wx_fmt=jpeg">`,
			expected: "https://mmbiz.qpic.cn/x/640?wx_fmt=jpeg",
			lazy:     true,
		},
		{
			name:     "data-src beats src",
			img:      `<img src="https://cdn.example.com/small.jpg" data-src="https://cdn.example.com/real.jpg">`,
			expected: "https://cdn.example.com/real.jpg",
			lazy:     true,
		},
		{
			name:     "widest srcset beats lazy attributes",
			img:      `<img data-original="https://cdn.example.com/lazy.jpg" srcset="https://cdn.example.com/s.jpg 320w, https://cdn.example.com/l.jpg 1280w, https://cdn.example.com/m.jpg 640w">`,
			expected: "https://cdn.example.com/l.jpg",
		},
		{
			name:     "density descriptors",
			img:      `<img src="/one.jpg" srcset="/one.jpg, /two.jpg 2x">`,
			expected: "https://mp.weixin.qq.com/two.jpg",
		},
		{
			name:     "data-actualsrc",
			img:      `<img data-actualsrc="//pic1.zhimg.com/v2-abc_720w.jpg">`,
			expected: "https://pic1.zhimg.com/v2-abc_720w.jpg",
			lazy:     true,
		},
		{
			name:     "plain src",
			img:      `<img src="https://cdn.example.com/plain.jpg">`,
			expected: "https://cdn.example.com/plain.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := newTestParser().Parse("<body>"+tt.img+"</body>", articleURL)
			require.NoError(t, err)
			require.Len(t, ds, 1)
			assert.Equal(t, tt.expected, ds[0].URL)
			assert.Equal(t, tt.lazy, ds[0].LazyLoaded)
		})
	}
}

func TestParseSkipsMalformed(t *testing.T) {
	markup := `<body>
		<img>
		<img src="">
		<img src="data:image/png;base64,iVBOR">
		<img src="javascript:alert(1)">
		<img src="http://[::1">
		<img src="https://cdn.example.com/ok.jpg">
	</body>`

	ds, err := newTestParser().Parse(markup, articleURL)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, 0, ds[0].Index)
	assert.Equal(t, "https://cdn.example.com/ok.jpg", ds[0].URL)
}

func TestParseRelativeWithoutBase(t *testing.T) {
	ds, err := newTestParser().Parse(`<img src="/a.jpg"><img src="//cdn.example.com/b.jpg">`, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/b.jpg"}, urls(ds))
}

func TestParseBaseElement(t *testing.T) {
	markup := `<html><head><base href="https://static.example.net/assets/"></head>
		<body><img src="pic.jpg"></body></html>`

	ds, err := newTestParser().Parse(markup, articleURL)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "https://static.example.net/assets/pic.jpg", ds[0].URL)
}

func TestParseDimensions(t *testing.T) {
	markup := `<body>
		<img src="/a.jpg" width="800" height="600">
		<img src="/b.jpg" style="max-width: 100%; width: 20px; height:20.4px">
		<img src="/c.jpg" data-w="1080" data-ratio="0.75">
		<img src="/d.jpg" width="100%">
		<img src="/e.jpg" width="64px">
	</body>`

	ds, err := newTestParser().Parse(markup, articleURL)
	require.NoError(t, err)
	require.Len(t, ds, 5)

	assert.Equal(t, 800, *ds[0].Width)
	assert.Equal(t, 600, *ds[0].Height)

	assert.Equal(t, 20, *ds[1].Width)
	assert.Equal(t, 20, *ds[1].Height)

	assert.Equal(t, 1080, *ds[2].Width)
	assert.Equal(t, 810, *ds[2].Height)

	assert.Nil(t, ds[3].Width, "percent widths are not declared sizes")
	assert.Nil(t, ds[3].Height)

	assert.Equal(t, 64, *ds[4].Width)
	assert.Nil(t, ds[4].Height)
}

func TestParseRegions(t *testing.T) {
	markup := `<body>
		<header><img src="/logo.png"></header>
		<nav><img src="/menu.png"></nav>
		<article>
			<header><img src="/hero.jpg"></header>
			<img src="/body.jpg">
		</article>
		<aside><img src="/ad.jpg"></aside>
		<div role="contentinfo"><img src="/badge.png"></div>
		<footer><img src="/qr.png"></footer>
	</body>`

	ds, err := newTestParser().Parse(markup, articleURL)
	require.NoError(t, err)
	require.Len(t, ds, 7)

	expected := []models.Region{
		models.RegionHeader,
		models.RegionNav,
		models.RegionContent,
		models.RegionContent,
		models.RegionAside,
		models.RegionFooter,
		models.RegionFooter,
	}
	for i, region := range expected {
		assert.Equal(t, region, ds[i].Region, "image %d (%s)", i, ds[i].URL)
	}
}

func TestParseChromeMarkers(t *testing.T) {
	markup := `<body>
		<div id="js_content"><img src="/body.jpg"></div>
		<div class="rich_media_area_extra"><div><img src="/extra.png"></div></div>
		<div id="JS_PC_QR_CODE"><img src="/qr.png"></div>
		<div class="outer profile_container inner"><img src="/avatar.png"></div>
		<div class="rich_media_area_extra_like"><img src="/partial.png"></div>
	</body>`

	tests := []struct {
		name     string
		markers  []string
		expected []models.Region
	}{
		{
			name:    "no markers",
			markers: nil,
			expected: []models.Region{
				models.RegionContent, models.RegionContent, models.RegionContent,
				models.RegionContent, models.RegionContent,
			},
		},
		{
			name:    "id and class markers",
			markers: []string{"rich_media_area_extra", " js_pc_qr_code ", "profile_container", ""},
			expected: []models.Region{
				models.RegionContent, models.RegionChrome, models.RegionChrome,
				models.RegionChrome, models.RegionContent,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := New(logger.NewNopLogger(), WithChromeMarkers(tt.markers...)).Parse(markup, articleURL)
			require.NoError(t, err)
			require.Len(t, ds, len(tt.expected))
			for i, region := range tt.expected {
				assert.Equal(t, region, ds[i].Region, "image %d (%s)", i, ds[i].URL)
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	ds, err := newTestParser().Parse("", articleURL)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestParseInvalidBaseURL(t *testing.T) {
	_, err := newTestParser().Parse(`<img src="/a.jpg">`, "http://[::1")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	base, err := url.Parse("http://Example.com/news/item.html")
	require.NoError(t, err)

	tests := []struct {
		raw      string
		expected string
		wantErr  bool
	}{
		{"HTTPS://IMG.Example.com/Path/A.JPG#top", "https://img.example.com/Path/A.JPG", false},
		{"//cdn.example.com/x.png", "http://cdn.example.com/x.png", false},
		{"../img/y.png?w=10", "http://example.com/img/y.png?w=10", false},
		{"ftp://example.com/z.png", "", true},
		{"  ", "", true},
		{"DATA:image/png;base64,AAA", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Normalize(tt.raw, base)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSplitSrcset(t *testing.T) {
	entries := splitSrcset("https://cdn.example.com/a,b.jpg 1x,https://cdn.example.com/c.jpg 3x")
	require.Len(t, entries, 2)
	assert.Equal(t, "https://cdn.example.com/a,b.jpg", entries[0].url)
	assert.Equal(t, 1.0, entries[0].score)
	assert.Equal(t, "https://cdn.example.com/c.jpg", entries[1].url)
	assert.Equal(t, 3.0, entries[1].score)
}
