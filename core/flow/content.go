package flow

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/agendabot/core/intent"
)

//go:embed content.yaml
var defaultContent []byte

// Messages holds every user-facing text of the dialogue. Some entries are
// templates over {fecha}, {hora} and {nombre}.
type Messages struct {
	Bienvenida           string `yaml:"bienvenida"`
	BotonSi              string `yaml:"boton_si"`
	BotonNo              string `yaml:"boton_no"`
	Rechazo              string `yaml:"rechazo"`
	SinAgendas           string `yaml:"sin_agendas"`
	ElegirAgenda         string `yaml:"elegir_agenda"`
	AgendasBoton         string `yaml:"agendas_boton"`
	AgendasSection       string `yaml:"agendas_section"`
	BucketInvalido       string `yaml:"bucket_invalido"`
	PedirNombre          string `yaml:"pedir_nombre"`
	NombreInvalido       string `yaml:"nombre_invalido"`
	PedirFechaBotones    string `yaml:"pedir_fecha_botones"`
	BotonHoy             string `yaml:"boton_hoy"`
	BotonManana          string `yaml:"boton_manana"`
	BotonElegirDia       string `yaml:"boton_elegir_dia"`
	PedirFechaLista      string `yaml:"pedir_fecha_lista"`
	FechaListaBoton      string `yaml:"fecha_lista_boton"`
	FechaListaSection    string `yaml:"fecha_lista_section"`
	OtraFechaTitulo      string `yaml:"otra_fecha_titulo"`
	OtraFechaDescripcion string `yaml:"otra_fecha_descripcion"`
	PedirFechaManual     string `yaml:"pedir_fecha_manual"`
	FechaInvalida        string `yaml:"fecha_invalida"`
	Buscando             string `yaml:"buscando"`
	SinHorarios          string `yaml:"sin_horarios"`
	SlotsTitle           string `yaml:"slots_title"`
	SlotsButton          string `yaml:"slots_button"`
	SlotsSection         string `yaml:"slots_section"`
	SlotInvalido         string `yaml:"slot_invalido"`
	PedirEmail           string `yaml:"pedir_email"`
	EmailInvalido        string `yaml:"email_invalido"`
	Confirmando          string `yaml:"confirmando"`
	Confirmada           string `yaml:"confirmada"`
	SlotTomado           string `yaml:"slot_tomado"`
	ErrorReserva         string `yaml:"error_reserva"`
	ErrorGeneral         string `yaml:"error_general"`
	NecesitasAlgoMas     string `yaml:"necesitas_algo_mas"`
	BotonAgendarOtra     string `yaml:"boton_agendar_otra"`
	BotonSalir           string `yaml:"boton_salir"`
	Despedida            string `yaml:"despedida"`
	Fallback             string `yaml:"fallback"`
}

// Content is the language table of the dialogue.
type Content struct {
	Intents  intent.Table `yaml:"intents"`
	Weekdays []string     `yaml:"dias_semana"`
	Messages Messages     `yaml:"mensajes"`
}

// DefaultContent returns the embedded Spanish table.
func DefaultContent() (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(defaultContent, &c); err != nil {
		return nil, fmt.Errorf("flow: parse embedded content: %w", err)
	}
	return &c, c.validate()
}

// LoadContent overlays the file at path onto the embedded table. Keys missing
// from the file keep their default. An empty path returns the defaults.
func LoadContent(path string) (*Content, error) {
	c, err := DefaultContent()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flow: read content: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("flow: parse content %s: %w", path, err)
	}
	return c, c.validate()
}

func (c *Content) validate() error {
	if len(c.Weekdays) != 7 {
		return fmt.Errorf("flow: dias_semana needs 7 entries, got %d", len(c.Weekdays))
	}
	v := reflect.ValueOf(c.Messages)
	t := v.Type()
	var missing []string
	for i := 0; i < t.NumField(); i++ {
		if strings.TrimSpace(v.Field(i).String()) == "" {
			missing = append(missing, t.Field(i).Tag.Get("yaml"))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("flow: empty messages: %s", strings.Join(missing, ", "))
	}
	if len(c.Intents.Greeting) == 0 || len(c.Intents.Book) == 0 || len(c.Intents.No) == 0 {
		return fmt.Errorf("flow: intents saludo, agenda and no must not be empty")
	}
	return nil
}

// fill substitutes {fecha}, {hora} and {nombre} in tpl.
func fill(tpl, fecha, hora, nombre string) string {
	return strings.NewReplacer("{fecha}", fecha, "{hora}", hora, "{nombre}", nombre).Replace(tpl)
}
