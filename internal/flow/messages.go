package flow

import (
	"strings"

	"stibot/internal/store"
)

// Deterministic-stage replies, hand-authored per locale. The step generator
// never writes these; only the diagnostic stage speaks through the LLM.
var messages = map[string]map[string]string{
	"greeting": {
		"es-AR": "¡Hola! Soy el asistente técnico de STI. Antes de empezar necesito tu consentimiento para procesar los datos de esta conversación. / Hi! I need your consent to process this conversation's data.",
	},
	"consent_retry": {
		"es-AR": "Necesito que aceptes o rechaces para continuar.",
		"es-ES": "Necesito que aceptes o rechaces para continuar.",
		"en":    "I need you to accept or decline before we continue.",
	},
	"declined": {
		"es-AR": "Entendido, no vamos a continuar. ¡Que tengas un buen día!",
		"es-ES": "Entendido, no vamos a continuar. ¡Que tengas un buen día!",
		"en":    "Understood, we will not continue. Have a good day!",
	},
	"ask_language": {
		"es-AR": "Perfecto. ¿En qué idioma preferís que hablemos?",
	},
	"ask_name": {
		"es-AR": "¡Gracias! ¿Cómo te llamás? Si preferís, podés seguir de forma anónima.",
		"es-ES": "¡Gracias! ¿Cómo te llamas? Si lo prefieres, puedes seguir de forma anónima.",
		"en":    "Thanks! What's your name? You can also stay anonymous.",
	},
	"ask_user_level": {
		"es-AR": "%s, contame qué necesitás hoy.",
		"es-ES": "%s, cuéntame qué necesitas hoy.",
		"en":    "%s, tell me what you need today.",
	},
	"ask_device": {
		"es-AR": "¿Con qué equipo estás teniendo el problema? Podés elegir una opción o escribir la marca y modelo.",
		"es-ES": "¿Con qué equipo estás teniendo el problema? Puedes elegir una opción o escribir la marca y modelo.",
		"en":    "Which device are we working with? Pick an option or type the make and model.",
	},
	"ask_problem": {
		"es-AR": "Contame con tus palabras qué está pasando.",
		"es-ES": "Cuéntame con tus palabras qué está pasando.",
		"en":    "Describe in your own words what is going on.",
	},
	"ask_clarification": {
		"es-AR": "Necesito un poco más de detalle para ayudarte bien. ¿Qué hace exactamente el equipo y desde cuándo?",
		"es-ES": "Necesito algo más de detalle para ayudarte bien. ¿Qué hace exactamente el equipo y desde cuándo?",
		"en":    "I need a bit more detail to help you properly. What exactly does the device do, and since when?",
	},
	"risk_warning": {
		"es-AR": "Atención: este tipo de problema puede implicar riesgo para el equipo o tus datos. Si seguís los pasos, hacelo con cuidado y con el equipo desenchufado cuando te lo indique. ¿Continuamos?",
		"es-ES": "Atención: este tipo de problema puede implicar riesgo para el equipo o tus datos. Si sigues los pasos, hazlo con cuidado y con el equipo desenchufado cuando te lo indique. ¿Continuamos?",
		"en":    "Careful: this kind of problem can put your device or data at risk. If you follow the steps, do so carefully and unplug the device when instructed. Shall we continue?",
	},
	"ask_contact_email": {
		"es-AR": "Voy a derivar tu caso a un técnico. ¿Me dejás un email de contacto?",
		"es-ES": "Voy a derivar tu caso a un técnico. ¿Me dejas un email de contacto?",
		"en":    "I'm handing your case to a technician. Could you leave a contact email?",
	},
	"contact_email_retry": {
		"es-AR": "Ese email no parece válido. Probá de nuevo u omití este paso.",
		"es-ES": "Ese email no parece válido. Inténtalo de nuevo u omite este paso.",
		"en":    "That email doesn't look valid. Try again or skip this step.",
	},
	"ask_contact_phone": {
		"es-AR": "¿Y un teléfono de contacto?",
		"es-ES": "¿Y un teléfono de contacto?",
		"en":    "And a contact phone number?",
	},
	"ticket_created": {
		"es-AR": "Listo, generé el ticket %s. Un técnico va a continuar con tu caso. Podés escribirle directamente acá: %s",
		"es-ES": "Listo, he generado el ticket %s. Un técnico continuará con tu caso. Puedes escribirle directamente aquí: %s",
		"en":    "Done, I created ticket %s. A technician will take over your case. You can message them directly here: %s",
	},
	"ask_feedback": {
		"es-AR": "¡Excelente! ¿Te sirvió la ayuda?",
		"es-ES": "¡Excelente! ¿Te ha servido la ayuda?",
		"en":    "Great! Was this helpful?",
	},
	"goodbye": {
		"es-AR": "¡Gracias por tu tiempo! Podés volver cuando quieras.",
		"es-ES": "¡Gracias por tu tiempo! Puedes volver cuando quieras.",
		"en":    "Thanks for your time! Come back whenever you need.",
	},
	"ended": {
		"es-AR": "Esta conversación ya terminó. Iniciá una nueva si necesitás ayuda.",
		"es-ES": "Esta conversación ya ha terminado. Inicia una nueva si necesitas ayuda.",
		"en":    "This conversation has ended. Start a new one if you need help.",
	},
	"try_again": {
		"es-AR": "Probemos de nuevo, no entendí tu respuesta.",
		"es-ES": "Probemos de nuevo, no he entendido tu respuesta.",
		"en":    "Let's try that again, I didn't catch your answer.",
	},
}

// anonymous greeting used in place of a name.
var anonName = map[string]string{
	"es-AR": "Perfecto",
	"es-ES": "Perfecto",
	"en":    "All right",
}

// msg resolves a message key for the session language, falling back to
// es-AR, the original system's home locale.
func msg(sess *store.Session, key string) string {
	byLocale, ok := messages[key]
	if !ok {
		return ""
	}
	lang := sess.Language
	if lang == "" {
		lang = "es-AR"
	}
	if m, ok := byLocale[lang]; ok {
		return m
	}
	if strings.HasPrefix(lang, "es") {
		if m, ok := byLocale["es-AR"]; ok {
			return m
		}
	}
	if m, ok := byLocale["es-AR"]; ok {
		return m
	}
	return byLocale["en"]
}

func displayName(sess *store.Session) string {
	if sess.Name != "" {
		return sess.Name
	}
	lang := sess.Language
	if _, ok := anonName[lang]; !ok {
		lang = "es-AR"
	}
	return anonName[lang]
}
