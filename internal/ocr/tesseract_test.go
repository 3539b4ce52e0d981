package ocr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t10\t200\t20\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t96.5\tI\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t50\t20\t90.5\twill\n" +
	"5\t1\t1\t1\t1\t3\t130\t10\t50\t20\t-1\t \n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t50\t20\t89\tkill\n" +
	"5\t1\t1\t1\t2\t2\t70\t40\t50\t20\t88\tyou\n"

func TestParseTSV(t *testing.T) {
	res, err := ParseTSV(strings.NewReader(sampleTSV))
	require.NoError(t, err)
	require.Equal(t, "I will\nkill you", res.Text)
	require.InDelta(t, 91.0, res.EngineConfidence, 1e-9)
}

func TestParseTSVWithoutWords(t *testing.T) {
	res, err := ParseTSV(strings.NewReader("level\tpage_num\n1\t1\t0\t0\t0\t0\t0\t0\t10\t10\t-1\t\n"))
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Zero(t, res.EngineConfidence)
}

type fakeExecutor struct {
	langs    string
	tsv      string
	failWith error
	calls    [][]string
	stdin    []byte
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	f.calls = append(f.calls, append([]string{binary}, args...))
	if f.failWith != nil {
		return nil, f.failWith
	}
	switch args[0] {
	case "--version":
		return []byte("tesseract 5.3.0\n"), nil
	case "--list-langs":
		return []byte(f.langs), nil
	default:
		f.stdin = stdin
		return []byte(f.tsv), nil
	}
}

func TestTesseractRecognizer(t *testing.T) {
	exec := &fakeExecutor{langs: "List of available languages (2):\neng\nosd\n", tsv: sampleTSV}
	rec, err := NewTesseractRecognizer(context.Background(), TesseractConfig{Path: "/usr/bin/tesseract", PSM: 6}, WithExecutor(exec))
	require.NoError(t, err)

	res, err := rec.Recognize(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "I will\nkill you", res.Text)
	require.Equal(t, []byte("png-bytes"), exec.stdin)
	require.Equal(t, []string{"/usr/bin/tesseract", "stdin", "stdout", "-l", "eng", "--psm", "6", "tsv"}, exec.calls[2])
	require.NoError(t, rec.Close())
}

func TestTesseractRecognizerMissingLanguage(t *testing.T) {
	exec := &fakeExecutor{langs: "List of available languages (1):\nosd\n"}
	_, err := NewTesseractRecognizer(context.Background(), TesseractConfig{Language: "eng"}, WithExecutor(exec))
	require.ErrorContains(t, err, `language "eng" not installed`)
}

func TestTesseractFactoryFailsEngine(t *testing.T) {
	exec := &fakeExecutor{failWith: errors.New("executable file not found")}
	engine := NewEngine(Config{})
	err := engine.Start(context.Background(), TesseractConfig{}.Factory(WithExecutor(exec)))
	require.ErrorContains(t, err, "tesseract unavailable")
	require.Equal(t, Failed, engine.State())
	require.Equal(t, "tesseract", exec.calls[0][0])
}
